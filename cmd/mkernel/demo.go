package main

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/sysgen"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

const (
	statusSampling uint32 = 1 << iota
	statusReported
	statusRemote
)

// demoEntries returns the bodies the bundled project refers to. Tasks in a
// custom project that name none of these run as external tasks.
func demoEntries(sym **sysgen.Symbols, log *utils.Logger) sysgen.Entries {
	return sysgen.Entries{
		Tasks: map[string]micro.TaskEntry{
			"sampler":  func(ctx context.Context, t *micro.Task) { sampler(ctx, t, *sym, log) },
			"reporter": func(ctx context.Context, t *micro.Task) { reporter(ctx, t, *sym, log) },
			"remote":   func(ctx context.Context, t *micro.Task) { remote(ctx, t, *sym, log) },
		},
		Fibers: map[string]micro.FiberFunc{
			"heartbeat": func(fc *micro.FiberContext) micro.FiberResult {
				if fc.Runs()%100 == 0 {
					log.Debug("Heartbeat", utils.Uint64("runs", fc.Runs()), utils.Uint64("tick", fc.Ticks()))
				}
				return micro.FiberBlock
			},
		},
	}
}

// sampler arms a periodic timer and pushes one 4-byte sample per period
// through a frame borrowed from the map.
func sampler(ctx context.Context, t *micro.Task, sym *sysgen.Symbols, log *utils.Logger) {
	tick := sym.Semaphores["sample_tick"]
	tm, err := t.TimerAlloc()
	if err != nil {
		log.Warn("Sampler has no timer", utils.Err(err))
		return
	}
	defer func() { _ = t.TimerFree(tm) }()
	if err := t.TimerStart(tm, 5, 5, tick); err != nil {
		log.Warn("Sampler timer failed", utils.Err(err))
		return
	}
	_ = t.GroupSet(sym.Groups["status"], statusSampling)

	var seq uint32
	for ctx.Err() == nil {
		if err := t.SemTake(tick, micro.Forever); err != nil {
			return
		}
		blk, err := t.MapAlloc(sym.Maps["frames"], 10)
		if err != nil {
			log.Debug("No frame for sample", utils.Err(err))
			continue
		}
		seq++
		binary.LittleEndian.PutUint32(blk.Data, seq)
		if _, err := t.PipePut(sym.Pipes["samples"], blk.Data[:4], micro.PipeAll, 20); err != nil {
			log.Debug("Sample dropped", utils.Uint32("seq", seq), utils.String("code", micro.Code(err)))
		}
		if err := t.MapFree(sym.Maps["frames"], blk); err != nil {
			log.Warn("Frame free failed", utils.Err(err))
		}
	}
}

// reporter drains the sample pipe in batches of up to eight samples, taking
// whatever arrived when a batch window closes, and wakes the heartbeat fiber
// after each one.
func reporter(ctx context.Context, t *micro.Task, sym *sysgen.Symbols, log *utils.Logger) {
	buf := make([]byte, 32)
	var batches uint64
	for ctx.Err() == nil {
		n, err := t.PipeGet(sym.Pipes["samples"], buf, micro.PipeAtLeastOne, 25)
		if errors.Is(err, micro.ErrTime) {
			continue
		}
		if err != nil {
			return
		}
		batches++
		last := binary.LittleEndian.Uint32(buf[n-4 : n])
		if batches%20 == 1 {
			log.Info("Samples received", utils.Int("bytes", n), utils.Uint32("last", last), utils.Uint64("batches", batches))
		}
		_ = t.GroupSet(sym.Groups["status"], statusReported)
		if id, ok := sym.Fibers["heartbeat"]; ok {
			_ = t.Kernel().WakeFiber(id)
		}
	}
}

// remote reacts to gives on the "remote" semaphore, normally sent as
// command records by a monitor session.
func remote(ctx context.Context, t *micro.Task, sym *sysgen.Symbols, log *utils.Logger) {
	for ctx.Err() == nil {
		if err := t.SemTake(sym.Semaphores["remote"], micro.Forever); err != nil {
			return
		}
		log.Info("Remote command received")
		_ = t.GroupSet(sym.Groups["status"], statusRemote)
	}
}
