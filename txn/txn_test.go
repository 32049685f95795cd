package txn

import (
	"errors"
	"testing"
	"time"
)

func TestTCPTableBeginAssignsUniqueIDs(t *testing.T) {
	table := NewTCPTable()
	seen := make(map[uint16]bool)
	for i := 0; i < 100; i++ {
		id, _, err := table.Begin()
		if err != nil {
			t.Fatalf("Begin() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate transaction id %d handed out while previous ones are outstanding", id)
		}
		seen[id] = true
	}
	if table.Outstanding() != 100 {
		t.Fatalf("expected 100 outstanding transactions, got %d", table.Outstanding())
	}
}

func TestTCPTableResolveOutOfOrder(t *testing.T) {
	table := NewTCPTable()
	id1, wait1, _ := table.Begin()
	id2, wait2, _ := table.Begin()
	id3, wait3, _ := table.Begin()

	// Responses arrive in a different order than the requests were sent.
	table.Resolve(id3, []byte{0xAA})
	table.Resolve(id1, []byte{0x11})
	table.Resolve(id2, []byte{0x22})

	pdu1, err := wait1()
	if err != nil || pdu1[0] != 0x11 {
		t.Fatalf("wait1: pdu=%v err=%v", pdu1, err)
	}
	pdu2, err := wait2()
	if err != nil || pdu2[0] != 0x22 {
		t.Fatalf("wait2: pdu=%v err=%v", pdu2, err)
	}
	pdu3, err := wait3()
	if err != nil || pdu3[0] != 0xAA {
		t.Fatalf("wait3: pdu=%v err=%v", pdu3, err)
	}
}

func TestTCPTableReleasesIDAfterResolve(t *testing.T) {
	table := NewTCPTable()
	id, wait, _ := table.Begin()
	table.Resolve(id, []byte{0x01})
	wait()

	if table.Outstanding() != 0 {
		t.Fatalf("expected 0 outstanding after resolve, got %d", table.Outstanding())
	}
}

func TestTCPTableCancelDeliversErrCancelled(t *testing.T) {
	table := NewTCPTable()
	id, wait, _ := table.Begin()
	table.Cancel(id)

	_, err := wait()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestTCPTableLostFailsAllOutstanding(t *testing.T) {
	table := NewTCPTable()
	_, wait1, _ := table.Begin()
	_, wait2, _ := table.Begin()

	table.Lost()

	if _, err := wait1(); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("wait1: expected ErrConnectionLost, got %v", err)
	}
	if _, err := wait2(); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("wait2: expected ErrConnectionLost, got %v", err)
	}

	if _, _, err := table.Begin(); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected Begin to fail while lost, got %v", err)
	}

	table.Reset()
	if _, _, err := table.Begin(); err != nil {
		t.Fatalf("expected Begin to succeed after Reset, got %v", err)
	}
}

func TestSerialGateSerializesAccess(t *testing.T) {
	gate := &SerialGate{}
	release := gate.Acquire()

	acquired := make(chan struct{})
	go func() {
		release2 := gate.Acquire()
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatalf("second Acquire returned before the first was released")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second Acquire never unblocked after release")
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Send: func() ([]byte, error) {
			calls++
			return []byte{0x01}, nil
		},
	}
	resp, err := policy.Run()
	if err != nil || calls != 1 {
		t.Fatalf("expected 1 call and no error, got calls=%d err=%v", calls, err)
	}
	if resp[0] != 0x01 {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestRetryPolicyReconnectsBetweenAttempts(t *testing.T) {
	reconnects := 0
	attempt := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Reconnect: func() error {
			reconnects++
			return nil
		},
		Send: func() ([]byte, error) {
			attempt++
			if attempt < 3 {
				return nil, ErrConnectionLost
			}
			return []byte{0x42}, nil
		},
	}
	resp, err := policy.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp[0] != 0x42 {
		t.Fatalf("unexpected response: %v", resp)
	}
	if reconnects != 2 {
		t.Fatalf("expected 2 reconnects (before attempts 2 and 3), got %d", reconnects)
	}
}

func TestRetryPolicyDoesNotRetryCancelled(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 5,
		Send: func() ([]byte, error) {
			calls++
			return nil, ErrCancelled
		},
		IsRetryable: DefaultIsRetryable,
	}
	_, err := policy.Run()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestRetryPolicyExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Send: func() ([]byte, error) {
			calls++
			return nil, ErrConnectionLost
		},
	}
	_, err := policy.Run()
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
}
