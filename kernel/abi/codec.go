// Package abi defines the wire records exchanged with kernel monitors: fixed
// layout command records that inject interrupt-class requests, and trace
// records describing kernel activity. Records are Cap'n Proto messages.
package abi

import (
	"fmt"

	capnp "zombiezen.com/go/capnproto2"

	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// CommandRecord is a decoded Command.
type CommandRecord struct {
	Op     micro.Opcode
	Object uint16
	Flags  uint32
}

// EncodeCommand marshals a command record.
func EncodeCommand(rec CommandRecord) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, err
	}
	cmd, err := NewRootCommand(seg)
	if err != nil {
		return nil, err
	}
	cmd.SetOpcode(uint16(rec.Op))
	cmd.SetObject(rec.Object)
	cmd.SetFlags(rec.Flags)
	return msg.Marshal()
}

// DecodeCommand unmarshals a command record and checks that it names an
// interrupt-safe service.
func DecodeCommand(data []byte) (CommandRecord, error) {
	if len(data) == 0 {
		return CommandRecord{}, utils.NewError("empty command record")
	}
	msg, err := capnp.Unmarshal(data)
	if err != nil {
		return CommandRecord{}, utils.WrapError(err, "decode command record")
	}
	cmd, err := ReadRootCommand(msg)
	if err != nil {
		return CommandRecord{}, utils.WrapError(err, "read command record")
	}

	raw := cmd.Opcode()
	if raw > 0xFF || !micro.Opcode(raw).Valid() {
		return CommandRecord{}, fmt.Errorf("unknown opcode %d", raw)
	}
	rec := CommandRecord{Op: micro.Opcode(raw), Object: cmd.Object(), Flags: cmd.Flags()}
	if !rec.Op.ISRSafe() && rec.Op != micro.OpNop {
		return CommandRecord{}, fmt.Errorf("opcode %s is not accepted from a command record", rec.Op)
	}
	return rec, nil
}

// Submit decodes a command record and queues it through the interrupt
// service surface.
func Submit(isr micro.ISR, data []byte) (CommandRecord, error) {
	rec, err := DecodeCommand(data)
	if err != nil {
		return rec, err
	}
	return rec, isr.Submit(rec.Op, rec.Object, rec.Flags)
}

func fillTrace(r TraceRecord, ev micro.TraceEvent) {
	r.SetSeq(ev.Seq)
	r.SetTick(ev.Tick)
	r.SetObject(ev.Object)
	r.SetArg(ev.Arg)
	r.SetTask(uint16(ev.Task))
	r.SetKind(uint8(ev.Kind))
}

func readTrace(r TraceRecord) micro.TraceEvent {
	return micro.TraceEvent{
		Kind:   micro.TraceKind(r.Kind()),
		Seq:    r.Seq(),
		Tick:   r.Tick(),
		Task:   micro.TaskID(r.Task()),
		Object: r.Object(),
		Arg:    r.Arg(),
	}
}

// EncodeTrace marshals a single trace record.
func EncodeTrace(ev micro.TraceEvent) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, err
	}
	rec, err := NewRootTraceRecord(seg)
	if err != nil {
		return nil, err
	}
	fillTrace(rec, ev)
	return msg.Marshal()
}

// DecodeTrace unmarshals a single trace record.
func DecodeTrace(data []byte) (micro.TraceEvent, error) {
	msg, err := capnp.Unmarshal(data)
	if err != nil {
		return micro.TraceEvent{}, utils.WrapError(err, "decode trace record")
	}
	rec, err := ReadRootTraceRecord(msg)
	if err != nil {
		return micro.TraceEvent{}, utils.WrapError(err, "read trace record")
	}
	return readTrace(rec), nil
}

// EncodeTraceBatch marshals events into one message.
func EncodeTraceBatch(events []micro.TraceEvent) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, err
	}
	batch, err := NewRootTraceBatch(seg)
	if err != nil {
		return nil, err
	}
	list, err := batch.NewRecords(int32(len(events)))
	if err != nil {
		return nil, err
	}
	for i, ev := range events {
		fillTrace(list.At(i), ev)
	}
	return msg.Marshal()
}

// DecodeTraceBatch unmarshals a message written by EncodeTraceBatch.
func DecodeTraceBatch(data []byte) ([]micro.TraceEvent, error) {
	msg, err := capnp.Unmarshal(data)
	if err != nil {
		return nil, utils.WrapError(err, "decode trace batch")
	}
	batch, err := ReadRootTraceBatch(msg)
	if err != nil {
		return nil, utils.WrapError(err, "read trace batch")
	}
	list, err := batch.Records()
	if err != nil {
		return nil, utils.WrapError(err, "read trace batch records")
	}
	out := make([]micro.TraceEvent, list.Len())
	for i := range out {
		out[i] = readTrace(list.At(i))
	}
	return out, nil
}
