package micro

import "github.com/nashif/zephyr-sub001/kernel/utils"

// pipe pairs put and get requests and copies data directly between the
// callers' buffers. Sizes are multiples of unit bytes.
type pipe struct {
	name string
	unit int
	puts waitQueue
	gets waitQueue
}

// pipeRequest tracks one side of a transfer.
type pipeRequest struct {
	buf  []byte
	done int
	opt  PipeOption
}

func (r *pipeRequest) remaining() int { return len(r.buf) - r.done }

// PipeStatus is a snapshot of a pipe.
type PipeStatus struct {
	Name        string
	Unit        int
	PendingPuts int
	PendingGets int
}

// DefinePipe creates a pipe whose transfers move whole units of unit bytes.
// Only valid before Run.
func (k *Kernel) DefinePipe(name string, unit int) (PipeID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	if unit <= 0 {
		return 0, errFail("pipe unit must be positive")
	}
	k.pipes = append(k.pipes, &pipe{name: name, unit: unit})
	return PipeID(len(k.pipes) - 1), nil
}

// PipePut sends data and returns the number of bytes transferred.
func (t *Task) PipePut(id PipeID, data []byte, opt PipeOption, timeout Ticks) (int, error) {
	p := &packet{op: OpPipePut, timeout: timeout, a: args{id: uint16(id), buf: data, opts: uint32(opt)}}
	err := t.call(p)
	return p.count, err
}

// PipeGet receives into buf and returns the number of bytes transferred.
func (t *Task) PipeGet(id PipeID, buf []byte, opt PipeOption, timeout Ticks) (int, error) {
	p := &packet{op: OpPipeGet, timeout: timeout, a: args{id: uint16(id), buf: buf, opts: uint32(opt)}}
	err := t.call(p)
	return p.count, err
}

// PipeStatus returns a snapshot of the pipe.
func (k *Kernel) PipeStatus(id PipeID) (PipeStatus, error) {
	var st PipeStatus
	var lerr error
	err := k.inspect(func() {
		pi, err := k.lookupPipe(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		st = PipeStatus{Name: pi.name, Unit: pi.unit, PendingPuts: pi.puts.Len(), PendingGets: pi.gets.Len()}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupPipe(id uint16) (*pipe, error) {
	if int(id) >= len(k.pipes) {
		return nil, errUnknownObject("pipe", int(id))
	}
	return k.pipes[id], nil
}

// checkPipeRequest validates size and option before any matching.
func (k *Kernel) checkPipeRequest(p *packet) (*pipe, *pipeRequest, error) {
	pi, err := k.lookupPipe(p.a.id)
	if err != nil {
		return nil, nil, err
	}
	opt := PipeOption(p.a.opts)
	if opt > PipeAny {
		return nil, nil, errFail("unknown pipe option")
	}
	size := len(p.a.buf)
	if size == 0 {
		return nil, nil, errFail("zero length pipe request")
	}
	if size%pi.unit != 0 {
		k.log.Warn("Misaligned pipe request",
			utils.String("pipe", pi.name), utils.Int("size", size), utils.Int("unit", pi.unit))
		return nil, nil, NewKernelError(ErrCodeAlignment, "size is not a multiple of the element unit").
			WithContext("size", size).
			WithContext("unit", pi.unit)
	}
	return pi, &pipeRequest{buf: p.a.buf, opt: opt}, nil
}

func (k *Kernel) handlePipePut(p *packet) {
	pi, req, err := k.checkPipeRequest(p)
	if err != nil {
		p.complete(err)
		return
	}
	k.pipeMatch(req, &pi.gets, true)
	k.pipeFinish(p, req, StatePipeSend, &pi.puts)
}

func (k *Kernel) handlePipeGet(p *packet) {
	pi, req, err := k.checkPipeRequest(p)
	if err != nil {
		p.complete(err)
		return
	}
	k.pipeMatch(req, &pi.puts, false)
	k.pipeFinish(p, req, StatePipeRecv, &pi.gets)
}

// pipeMatch scans the opposite queue in order. Each match moves the smaller
// of the two remaining counts and is skipped when it would leave an
// all-or-nothing side partially served. A pending request completes once
// full; with room left it stays enlisted for later matches.
func (k *Kernel) pipeMatch(req *pipeRequest, pending *waitQueue, sending bool) {
	for _, w := range pending.snapshot() {
		if req.remaining() == 0 {
			return
		}
		other := w.pipe
		n := min(req.remaining(), other.remaining())
		if req.opt == PipeAll && n != req.remaining() {
			continue
		}
		if other.opt == PipeAll && n != other.remaining() {
			continue
		}
		if sending {
			copy(other.buf[other.done:other.done+n], req.buf[req.done:req.done+n])
		} else {
			copy(req.buf[req.done:req.done+n], other.buf[other.done:other.done+n])
		}
		req.done += n
		other.done += n
		w.pkt.count = other.done
		if other.remaining() == 0 {
			k.wake(w, nil)
		}
	}
}

// pipeFinish completes or parks the incoming request after matching. A
// request with room left waits for more data when its timeout allows;
// without one, an at-least-one request keeps what it moved.
func (k *Kernel) pipeFinish(p *packet, req *pipeRequest, state TaskState, q *waitQueue) {
	p.count = req.done
	switch {
	case req.remaining() == 0,
		req.opt == PipeAny,
		req.opt == PipeAtLeastOne && req.done > 0 && p.timeout == NoWait:
		p.complete(nil)
		return
	}
	if !k.canWait(p, "pipe transfer") {
		return
	}
	w := k.block(p, state, q)
	w.pipe = req
}

// pipeTimedOut reports the result of a pipe wait that ran out of time: an
// at-least-one request that moved data succeeds with its partial count.
func pipeTimedOut(req *pipeRequest, err error) error {
	if req.opt == PipeAtLeastOne && req.done > 0 {
		return nil
	}
	return err
}
