package notify

import (
	"errors"
	"testing"
)

func TestDisabledNotifierIsNoOp(t *testing.T) {
	n, err := New("", 0, Commands{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Enabled() {
		t.Fatal("notifier without token should be disabled")
	}

	n.Start()
	n.Startup("paper", 1000, []string{"BTC/USDC:USDC"})
	n.TradeOpened("BTC/USDC:USDC", "long", 50, 2, 100000)
	n.TradeClosed("BTC/USDC:USDC", 102000, 2)
	n.Liquidated("ETH/USDC:USDC", -33)
	n.CycleError(errors.New("boom"))
	n.Paused()
	n.Resumed()
	n.Stop()
}

func TestCommandDispatch(t *testing.T) {
	var paused, resumed, statusAsked bool
	n, err := New("", 0, Commands{
		Status: func() string { statusAsked = true; return "running" },
		Pause:  func() error { paused = true; return nil },
		Resume: func() error { resumed = true; return nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n.handleCommand("status")
	n.handleCommand("pause")
	n.handleCommand("resume")
	n.handleCommand("ping")
	n.handleCommand("bogus")

	if !statusAsked || !paused || !resumed {
		t.Errorf("dispatch missed callbacks: status=%v pause=%v resume=%v", statusAsked, paused, resumed)
	}
}

func TestCommandDispatchNilCallbacks(t *testing.T) {
	n, _ := New("", 0, Commands{})
	n.handleCommand("status")
	n.handleCommand("pause")
	n.handleCommand("resume")
}

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{109573.5, "109573.50"},
		{4475.25, "4475.25"},
		{0.2345, "0.2345"},
		{99.99999, "100.0000"},
	}
	for _, c := range cases {
		if got := formatPrice(c.in); got != c.want {
			t.Errorf("formatPrice(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
