package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
	"github.com/legasicrypto/borrowing-protocol/internal/engine"
	"github.com/legasicrypto/borrowing-protocol/internal/gate"
)

// ============ Test: Run loop shutdown ============

// Closing the command channel is the orchestrator's shutdown signal.
// Run must process every queued command before returning, even with a
// single-slot persist channel where each send waits on the consumer,
// and afterwards the exported state must agree with what reached the
// persist side.
func TestEngine_RunDrainsQueuedCommandsOnClose(t *testing.T) {
	persistCh := make(chan engine.Output, 1)
	projCh := make(chan engine.Output, 64)
	valuer := gate.NewStaticCollateralValuer()
	valuer.Set("vault:ref:1", 1_000_000)
	e := engine.NewEngine(0, persistCh, projCh, nil, gate.NewStaticIdentityGate(), valuer, gate.NewRingQuoteFeed(64), nil)

	commandChan := make(chan command.Command, 16)
	commandChan <- &command.Initialize{
		Meta:            meta(adminAddr, 1_000),
		Admin:           adminAddr,
		OraclePublisher: publisherAddr,
		Executor:        executorAddr,
		MaxJumpBps:      1_000,
	}
	commandChan <- &command.SetPolicy{
		Meta:                meta(adminAddr, 1_000),
		Asset:               "USDC",
		MaxLTVBps:           7_000,
		LiquidationBandsBps: []int64{8_000, 9_000},
		SliceBps:            2_500,
		CooldownSecs:        300,
		MaxSlippageBps:      100,
		StalenessSecs:       60,
		BaseRateBps:         200,
		SpreadBps:           50,
		Allowed:             true,
	}
	commandChan <- &command.UpdatePrice{
		Meta:   meta(publisherAddr, 1_000),
		Asset:  "USDC",
		Price:  1_000_000,
		Round:  1,
		Source: "chainfeed",
	}
	const positions = 8
	for i := 0; i < positions; i++ {
		commandChan <- &command.OpenPosition{
			Meta:          meta(borrowerAddr, 1_000),
			PositionID:    fmt.Sprintf("pos-%d", i),
			CollateralRef: "vault:ref:1",
			Asset:         "USDC",
		}
	}
	close(commandChan)

	persisted := make(chan engine.Output, 64)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for o := range persistCh {
			persisted <- o
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(context.Background(), commandChan)
	}()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the command channel closed")
	}

	close(persistCh)
	<-consumerDone
	close(persisted)

	var persistedCount int64
	for range persisted {
		persistedCount++
	}

	snap := e.ExportState()
	if got := len(snap.Positions); got != positions {
		t.Fatalf("expected %d positions after drain, got %d", positions, got)
	}
	if snap.Sequence != persistedCount {
		t.Fatalf("engine sequence %d but %d events reached the persist side", snap.Sequence, persistedCount)
	}
}

// Run must also serve snapshot requests while blocked between
// commands, so the periodic snapshotter never observes a torn state.
func TestEngine_RunServesSnapshotRequests(t *testing.T) {
	e, _, _ := newLendingScenario(t)

	commandChan := make(chan command.Command)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(context.Background(), commandChan)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := e.RequestSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("expected 1 position in snapshot, got %d", len(snap.Positions))
	}

	close(commandChan)
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the command channel closed")
	}
}
