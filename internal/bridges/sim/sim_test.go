package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

func key(k string) bridges.Address { return bridges.Address{Key: k} }

func TestAdapter_ReadWriteLink(t *testing.T) {
	a := New(map[string]float64{"temp": 21.5})
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	a.Link("fan1.out", "fan1.fb")

	if v, err := a.Read(ctx, key("temp")); err != nil || v != 21.5 {
		t.Errorf("Read(temp) = %v, %v", v, err)
	}
	if v, err := a.Read(ctx, key("unset")); err != nil || v != 0 {
		t.Errorf("Read(unset) = %v, %v", v, err)
	}

	if err := a.Write(ctx, key("fan1.out"), 1); err != nil {
		t.Fatal(err)
	}
	if a.Value("fan1.fb") != 1 {
		t.Error("linked feedback did not follow output")
	}
	if a.Writes() != 1 {
		t.Errorf("Writes() = %d", a.Writes())
	}
}

func TestAdapter_Failures(t *testing.T) {
	a := New(nil)
	ctx := context.Background()

	if _, err := a.Read(ctx, key("x")); !errors.Is(err, bridges.ErrTransportClosed) {
		t.Errorf("read before connect = %v", err)
	}

	a.Connect(ctx) //nolint:errcheck // cannot fail here
	a.Fail("x", bridges.ErrTimeout)
	if _, err := a.Read(ctx, key("x")); !errors.Is(err, bridges.ErrTimeout) {
		t.Errorf("injected failure = %v", err)
	}
	a.Fail("x", nil)
	if _, err := a.Read(ctx, key("x")); err != nil {
		t.Errorf("cleared failure = %v", err)
	}

	if err := a.Write(ctx, bridges.Address{}, 1); !errors.Is(err, bridges.ErrUnsupportedAddress) {
		t.Errorf("empty key = %v", err)
	}

	a.FailConnect(errors.New("unplugged"))
	if _, err := a.Read(ctx, key("x")); !errors.Is(err, bridges.ErrTransportClosed) {
		t.Errorf("after FailConnect read = %v", err)
	}
	if err := a.Connect(ctx); !errors.Is(err, bridges.ErrTransportClosed) {
		t.Errorf("Connect() = %v", err)
	}
	a.FailConnect(nil)
	if err := a.Connect(ctx); err != nil {
		t.Errorf("Connect() after clear = %v", err)
	}
}
