package text

import "errors"

// ErrEmptyFontData is returned when NewFontSource is given no bytes.
var ErrEmptyFontData = errors.New("text: font data is empty")
