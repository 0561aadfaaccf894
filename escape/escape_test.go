package escape

import (
	"errors"
	"testing"

	"github.com/yetty/core/plugin"
	"github.com/yetty/core/widget"
)

func TestParseCreateAbsolute(t *testing.T) {
	cmd, err := Parse("99999;image;A;2;3;10;5;payload", DefaultVendorID)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Plugin != "image" || cmd.Op != OpCreateAbsolute {
		t.Fatalf("got plugin=%q op=%c", cmd.Plugin, cmd.Op)
	}
	if cmd.X != 2 || cmd.Y != 3 || cmd.Width != 10 || cmd.Height != 5 {
		t.Errorf("geometry = (%d,%d,%d,%d), want (2,3,10,5)", cmd.X, cmd.Y, cmd.Width, cmd.Height)
	}
	if string(cmd.Payload) != "payload" {
		t.Errorf("Payload = %q, want %q", cmd.Payload, "payload")
	}
}

func TestParseCreateRelativeNegativeCoords(t *testing.T) {
	cmd, err := Parse("99999;shadertoy;R;-1;-2;10;5;", DefaultVendorID)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.X != -1 || cmd.Y != -2 {
		t.Errorf("X,Y = %d,%d, want -1,-2", cmd.X, cmd.Y)
	}
}

func TestParseUpdate(t *testing.T) {
	cmd, err := Parse("99999;pdf;U;42;newpayload", DefaultVendorID)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Op != OpUpdate || cmd.ID != 42 || string(cmd.Payload) != "newpayload" {
		t.Errorf("got %+v", cmd)
	}
}

func TestParseDelete(t *testing.T) {
	cmd, err := Parse("99999;pdf;D;42", DefaultVendorID)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Op != OpDelete || cmd.ID != 42 {
		t.Errorf("got %+v", cmd)
	}
}

func TestParseOtherVendorPassesThrough(t *testing.T) {
	_, err := Parse("12345;foo;A;0;0;1;1;", DefaultVendorID)
	if !errors.Is(err, ErrOtherVendor) {
		t.Fatalf("expected ErrOtherVendor, got %v", err)
	}
}

func TestParseMalformedSequence(t *testing.T) {
	cases := []string{
		"not-a-number;foo;A;0;0;1;1",
		"99999;foo",
		"99999;foo;Z;0;0;1;1",
		"99999;foo;A;x;0;1;1",
	}
	for _, c := range cases {
		if _, err := Parse(c, DefaultVendorID); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) = %v, want ErrMalformed", c, err)
		}
	}
}

func TestBase94RoundTrip(t *testing.T) {
	data := []byte("hello, yetty widgets!")
	encoded := Base94Encode(data)
	for _, b := range encoded {
		if b < base94Min || b > base94Max {
			t.Fatalf("encoded byte %d out of printable range", b)
		}
	}
	decoded := Base94Decode(encoded)
	if string(decoded) != string(data) {
		t.Errorf("round trip = %q, want %q", decoded, data)
	}
}

func TestBase94DecodeSkipsBadPairs(t *testing.T) {
	good := Base94Encode([]byte("ok"))
	// Inject an out-of-range byte pair in the middle.
	corrupted := append(append(append([]byte{}, good[:2]...), 0x00, 0x01), good[2:]...)
	decoded := Base94Decode(corrupted)
	if string(decoded) != "ok" {
		t.Errorf("expected corrupted pair to be skipped, got %q", decoded)
	}
}

func TestBase94DecodeDropsTrailingUnpairedByte(t *testing.T) {
	decoded := Base94Decode([]byte{'!'})
	if len(decoded) != 0 {
		t.Errorf("expected empty decode for unpaired trailing byte, got %q", decoded)
	}
}

// --- Router ---

type fakeHost struct {
	createErr error
	created   []plugin.CreateRequest
	disposed  []*widget.Widget
}

func (f *fakeHost) CreateWidget(pluginName string, req plugin.CreateRequest) (*widget.Widget, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return widget.New(widget.NextID(), pluginName, req.Position, req.X, req.Y, req.WidthCells, req.HeightCells), nil
}

func (f *fakeHost) DisposeWidget(w *widget.Widget) {
	f.disposed = append(f.disposed, w)
}

type fakeActive struct {
	widgets map[uint32]*widget.Widget
}

func newFakeActive() *fakeActive { return &fakeActive{widgets: map[uint32]*widget.Widget{}} }

func (a *fakeActive) Get(id uint32) (*widget.Widget, bool) { w, ok := a.widgets[id]; return w, ok }
func (a *fakeActive) Put(w *widget.Widget)                 { a.widgets[w.ID] = w }
func (a *fakeActive) Remove(id uint32)                     { delete(a.widgets, id) }

func TestRouterDispatchCreateReservesAndTracks(t *testing.T) {
	host := &fakeHost{}
	active := newFakeActive()
	var reserved, restored *widget.Widget
	r := NewRouter(host, active)
	r.Reserve = func(w *widget.Widget) { reserved = w }
	r.Restore = func(w *widget.Widget) { restored = w }

	id, err := r.Dispatch("99999;image;A;0;0;4;3;")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero widget id")
	}
	if reserved == nil || reserved.ID != id {
		t.Fatal("expected Reserve to be called with the created widget")
	}
	if _, ok := active.Get(id); !ok {
		t.Fatal("expected the created widget to be tracked as active")
	}

	if _, err := r.Dispatch("99999;image;D;" + itoa(id)); err != nil {
		t.Fatalf("Dispatch delete: %v", err)
	}
	if restored == nil || restored.ID != id {
		t.Fatal("expected Restore to be called on delete")
	}
	if len(host.disposed) != 1 {
		t.Fatal("expected DisposeWidget to be called on delete")
	}
	if _, ok := active.Get(id); ok {
		t.Fatal("expected widget to be removed from active set after delete")
	}
}

func TestRouterDispatchCreateFailureDoesNotReserve(t *testing.T) {
	host := &fakeHost{createErr: errors.New("boom")}
	active := newFakeActive()
	reserveCalled := false
	r := NewRouter(host, active)
	r.Reserve = func(w *widget.Widget) { reserveCalled = true }

	if _, err := r.Dispatch("99999;image;A;0;0;1;1;"); err == nil {
		t.Fatal("expected error from failing CreateWidget")
	}
	if reserveCalled {
		t.Error("Reserve must not be called when widget creation fails")
	}
}

func TestRouterDispatchUpdateIgnoresUnknownID(t *testing.T) {
	host := &fakeHost{}
	active := newFakeActive()
	r := NewRouter(host, active)

	// Must not panic and must not error for an unknown id.
	if _, err := r.Dispatch("99999;image;U;999;x"); err != nil {
		t.Fatalf("Dispatch update on unknown id should be a silent no-op, got %v", err)
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
