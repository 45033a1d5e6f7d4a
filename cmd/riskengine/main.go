package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
	"github.com/legasicrypto/borrowing-protocol/internal/config"
	"github.com/legasicrypto/borrowing-protocol/internal/engine"
	"github.com/legasicrypto/borrowing-protocol/internal/event"
	"github.com/legasicrypto/borrowing-protocol/internal/gate"
	"github.com/legasicrypto/borrowing-protocol/internal/ingestion"
	"github.com/legasicrypto/borrowing-protocol/internal/observability"
	"github.com/legasicrypto/borrowing-protocol/internal/persistence"
	"github.com/legasicrypto/borrowing-protocol/internal/projection"
	"github.com/legasicrypto/borrowing-protocol/internal/query"
	"github.com/legasicrypto/borrowing-protocol/internal/server"
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("risk engine starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// --- Context with graceful shutdown ---
	// ctx covers the producer side (NATS, HTTP, ingestion). The drain
	// side (engine, bridge, batch workers) runs on workerCtx, which is
	// cancelled only after the engine has finished and every emitted
	// event has reached the workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	// --- SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("load snapshot failed")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); projection and publish
	// channels drop when full.
	commandChan := make(chan command.Command, cfg.Engine.CommandBuffer)
	persistOut := make(chan engine.Output, cfg.Engine.PersistBuffer)
	projectionOut := make(chan engine.Output, cfg.Engine.ProjectionBuffer)

	persistRows := make(chan persistence.EventRow, cfg.Engine.PersistBuffer)
	projectionRows := make(chan projection.ProjectionOutput, cfg.Engine.ProjectionBuffer)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Engine.PublishBuffer)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Off-protocol collaborators ---
	identity := gate.NewStaticIdentityGate()
	valuer := gate.NewStaticCollateralValuer()
	for ref, units := range cfg.Engine.CollateralUnits {
		valuer.Set(ref, units)
	}
	quotes := gate.NewRingQuoteFeed(1024)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Deterministic engine ---
	eng := engine.NewEngine(startSequence, persistOut, projectionOut, dbChecker, identity, valuer, quotes, metrics)

	if snap != nil {
		var engState engine.EngineState
		if err := json.Unmarshal(snap.Data, &engState); err != nil {
			log.Fatal().Err(err).Msg("decode snapshot state")
		}
		eng.RestoreState(&engState)
		log.Info().Int64("sequence", snap.Sequence).Msg("restored in-memory state from snapshot")
	}

	// --- LRU warming ---
	// Recent keys from the event log pre-fill the in-memory tier so
	// restart does not degrade to per-command DB lookups.
	warmKeys, err := snapMgr.LoadRecentIdempotencyKeys(ctx, cfg.Engine.IdempotencyWarmKeys)
	if err != nil {
		log.Warn().Err(err).Msg("load idempotency keys failed")
	} else if len(warmKeys) > 0 {
		eng.WarmIdempotency(warmKeys)
		log.Info().Int("keys", len(warmKeys)).Msg("idempotency cache warmed")
	}

	// --- Event replay ---
	replayCount, err := replayEventsFromLog(ctx, snapMgr, eng, startSequence, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay failed")
	}
	if replayCount > 0 {
		log.Info().Int64("events", replayCount).Int64("sequence", eng.Sequence()).Msg("replay complete")
	}

	// --- State hash verification ---
	// With no tail to replay, the restored hash tip must equal the
	// snapshot's recorded state hash.
	if snap != nil && replayCount == 0 {
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if actual := eng.ExportState().HashTip; actual != expected {
			log.Fatal().
				Hex("expected", expected[:]).
				Hex("actual", actual[:]).
				Msg("state hash mismatch after restore")
		}
		log.Info().Msg("state hash verified after snapshot restore")
	}

	// Everything at or below this sequence is already in the event log.
	bootSequence := eng.Sequence()

	// --- NATS ---
	var natsSubscriber *ingestion.NATSSubscriber
	var outboundPublisher *ingestion.OutboundPublisher
	rawCommandChan := make(chan ingestion.RawCommand, 4096)

	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure nats streams")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure outbound stream")
		}

		natsSubscriber = ingestion.NewNATSSubscriber(js, rawCommandChan, metrics)
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			log.Fatal().Err(err).Msg("nats subscribe")
		}

		outboundPublisher = ingestion.NewOutboundPublisher(js, publishChan)
	}

	// --- Services ---
	queryService := query.NewQueryService(db)
	apiServer := server.NewServer(queryService, commandChan, healthChecker, metrics)

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistDone := make(chan struct{})
	persistWorker := persistence.NewWorker(db, persistRows, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics)
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil {
			errChan <- err
		}
	}()

	// 2. Projection worker
	projDone := make(chan struct{})
	projWorker := projection.NewProjectionWorker(db, projectionRows, metrics)
	go func() {
		defer close(projDone)
		projWorker.Run(workerCtx)
	}()

	// 3. Outbound publisher
	publishDone := make(chan struct{})
	if outboundPublisher != nil {
		go func() {
			defer close(publishDone)
			outboundPublisher.Run(workerCtx)
		}()
	} else {
		close(publishDone)
	}

	// 4. Engine output bridge: engine.Output → persistence rows +
	//    projection rows + outbound events
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeEngineOutputs(workerCtx, persistOut, projectionOut, persistRows, projectionRows, publishChan, metrics)
	}()

	// 5. NATS → engine ingestion loop (parse, forward, ack)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		runIngestionLoop(ctx, rawCommandChan, commandChan, log)
	}()

	// 6. Engine loop. Runs on workerCtx and exits when commandChan
	//    closes, so cancelling the producer context never strands
	//    buffered commands.
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(workerCtx, commandChan)
	}()

	// 7. HTTP API server
	go func() {
		errChan <- apiServer.Start(cfg.Server.HTTPAddr)
	}()

	// 8. Periodic snapshots
	go runPeriodicSnapshots(ctx, eng, snapMgr, cfg.Snapshots, metrics, log)

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 10. Channel utilization sampler
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("command", len(commandChan), cap(commandChan))
				metrics.SetChannelMetrics("persist", len(persistOut), cap(persistOut))
				metrics.SetChannelMetrics("projection", len(projectionOut), cap(projectionOut))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				metrics.SetChannelMetrics("raw_command", len(rawCommandChan), cap(rawCommandChan))
			}
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", startSequence).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("risk engine ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	// --- Graceful shutdown ---
	// Stop the producers first, then close commandChan and wait for the
	// engine to drain. The bridge and batch workers stay up throughout
	// so the engine's blocking persist sends always complete.
	cancel()

	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}

	// Both command producers are now stopped, so closing the channel
	// cannot race a send.
	<-ingestDone
	close(commandChan)

	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		log.Error().Msg("engine drain timed out, skipping final snapshot")
		return
	}

	// Engine is done. Close the output path stage by stage so each
	// worker flushes before the next channel closes behind it.
	close(persistOut)
	close(projectionOut)
	<-bridgeDone
	close(persistRows)
	close(projectionRows)
	close(publishChan)
	<-persistDone
	<-projDone
	<-publishDone
	workerCancel()

	// The engine goroutine has returned, so a direct export is safe.
	// The snapshot must never claim sequences the event log does not
	// hold, so it is gated on the persistence worker's flush watermark.
	finalState := eng.ExportState()
	lastApplied := finalState.Sequence - 1
	if lastApplied >= bootSequence && persistWorker.LastFlushedSequence() < lastApplied {
		log.Error().
			Int64("applied", lastApplied).
			Int64("flushed", persistWorker.LastFlushedSequence()).
			Msg("event log behind engine state, skipping final snapshot")
	} else if err := saveSnapshot(shutdownCtx, finalState, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("risk engine shutdown complete")
}

// bridgeEngineOutputs converts engine.Output into the formats the
// downstream workers consume. The persist path blocks; projection and
// publish paths drop when their channels are full. Returns once both
// input channels are closed and drained.
func bridgeEngineOutputs(
	ctx context.Context,
	persistIn <-chan engine.Output,
	projectionIn <-chan engine.Output,
	persistOut chan<- persistence.EventRow,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	for persistIn != nil || projectionIn != nil {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}

			env := output.Envelope
			row := persistence.EventRow{
				Sequence:       env.Sequence,
				EventID:        env.EventID,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Asset:          env.Asset,
				Payload:        env.Payload,
				StateHash:      env.StateHash[:],
				PrevHash:       env.PrevHash[:],
				OccurredAt:     env.OccurredAt,
				CreatedAt:      time.Now(),
			}

			select {
			case persistOut <- row:
			case <-ctx.Done():
				return
			}

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Asset:          env.Asset,
				Payload:        json.RawMessage(env.Payload),
				StateHash:      env.StateHash[:],
				OccurredAt:     env.OccurredAt,
			}:
			default:
				metrics.PublishDrops.Inc()
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}

			env := output.Envelope
			row := projection.ProjectionOutput{
				Sequence:  env.Sequence,
				EventType: env.EventType,
				Asset:     env.Asset,
				Payload:   env.Payload,
				Timestamp: env.OccurredAt,
			}

			select {
			case projectionOut <- row:
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

// runIngestionLoop reads raw commands from NATS, parses them, and
// forwards typed commands to the engine. Messages are acked after the
// channel send, not after engine processing; backpressure propagates to
// NATS through the blocking send.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawCommand,
	commandChan chan<- command.Command,
	log zerolog.Logger,
) {
	// Subject-prefix → command-type lookup, matched by longest prefix.
	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := cfg.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = cfg.CommandType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			commandType := resolveCommandType(raw.Subject, subjectToType)
			if commandType == "" {
				log.Warn().Str("subject", raw.Subject).Msg("unknown nats subject")
				raw.AckFunc() // No redelivery loop for unroutable messages
				continue
			}

			cmd, err := ingestion.ParseRawCommand(raw, commandType)
			if err != nil {
				log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse command failed")
				raw.AckFunc() // Malformed commands are acked but not forwarded
				continue
			}

			select {
			case commandChan <- cmd:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// resolveCommandType finds the command type for a NATS subject by
// matching the longest configured prefix.
func resolveCommandType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, cmdType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = cmdType
			}
		}
	}
	return bestType
}

// --- Snapshot restore & replay ---

// replayEventsFromLog replays the event log tail into the engine,
// starting at fromSequence. Used for both warm restart (tail after
// snapshot) and cold restart (full log).
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	eng *engine.Engine,
	fromSequence int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (int64, error) {
	const batchSize = 1000
	start := time.Now()
	var totalReplayed int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for i := range rows {
			env, err := envelopeFromRow(&rows[i])
			if err != nil {
				return totalReplayed, err
			}
			if err := eng.ApplyEnvelope(env); err != nil {
				return totalReplayed, err
			}
			metrics.ReplayEventsTotal.Inc()
			totalReplayed++
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	if totalReplayed > 0 {
		log.Info().Int64("events", totalReplayed).Dur("took", time.Since(start)).Msg("event log replayed")
	}
	return totalReplayed, nil
}

func envelopeFromRow(row *persistence.EventRow) (*event.Envelope, error) {
	eventType := event.EventTypeFromString(row.EventType)
	if eventType == event.EventTypeUnknown {
		return nil, fmt.Errorf("unknown event type %q at seq %d", row.EventType, row.Sequence)
	}

	env := &event.Envelope{
		Sequence:       row.Sequence,
		EventID:        row.EventID,
		IdempotencyKey: row.IdempotencyKey,
		EventType:      eventType,
		Asset:          row.Asset,
		OccurredAt:     row.OccurredAt,
		Payload:        row.Payload,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, nil
}

// --- Snapshot helpers ---

// runPeriodicSnapshots saves a snapshot whenever the engine has moved
// at least EveryEvents sequences since the last one.
func runPeriodicSnapshots(
	ctx context.Context,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	cfg config.SnapshotConfig,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	everyEvents := cfg.EveryEvents
	if everyEvents <= 0 {
		everyEvents = 10_000
	}

	var lastSnapshotSeq int64 = -1
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := eng.RequestSnapshot(ctx)
			if err != nil {
				return
			}
			if lastSnapshotSeq >= 0 && snap.Sequence-lastSnapshotSeq < everyEvents {
				continue
			}
			if snap.Sequence == 0 {
				continue // Nothing processed yet
			}

			if err := saveSnapshot(ctx, snap, snapMgr, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = snap.Sequence
			log.Info().Int64("sequence", snap.Sequence).Msg("periodic snapshot saved")
		}
	}
}

// saveSnapshot serializes an exported engine state and persists it. The
// snapshot is marked verified immediately since it was taken from live
// state, not reconstructed.
func saveSnapshot(
	ctx context.Context,
	snap *engine.EngineState,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	data, err := persistence.MarshalSnapshotState(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// The snapshot rows key on the last applied sequence.
	rec := &persistence.SnapshotRecord{
		Sequence:  snap.Sequence - 1,
		StateHash: snap.HashTip[:],
		Data:      data,
		CreatedAt: time.Now(),
	}
	if rec.Sequence < 0 {
		return nil
	}

	if err := snapMgr.SaveSnapshot(ctx, rec); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := snapMgr.MarkVerified(ctx, rec.Sequence); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(len(data)))
	metrics.SnapshotLastSeq.Set(float64(rec.Sequence))

	return nil
}
