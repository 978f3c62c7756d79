package micro

// Message is a mailbox message. The sender fills Info, Data and RxTask
// (AnyTask for any receiver); the receiver supplies a Data buffer and
// TxTask (AnyTask for any sender). On delivery both sides see the number
// of bytes copied in Size, the peer task ids, and the swapped Info words.
type Message struct {
	Info   uint32
	Data   []byte
	Size   int
	TxTask TaskID
	RxTask TaskID
}

type mailbox struct {
	name string
	puts waitQueue
	gets waitQueue
}

// mboxRequest is one side of a mailbox exchange.
type mboxRequest struct {
	msg   *Message
	task  TaskID
	async bool
	sem   SemID
}

// MailboxStatus is a snapshot of a mailbox.
type MailboxStatus struct {
	Name        string
	PendingPuts int
	PendingGets int
}

// DefineMailbox creates a mailbox. Only valid before Run.
func (k *Kernel) DefineMailbox(name string) (MailboxID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	k.mailboxes = append(k.mailboxes, &mailbox{name: name})
	return MailboxID(len(k.mailboxes) - 1), nil
}

// MailboxPut sends msg and waits until a receiver takes it.
func (t *Task) MailboxPut(id MailboxID, msg *Message, timeout Ticks) error {
	return t.call(&packet{op: OpMboxPut, timeout: timeout, a: args{id: uint16(id), msg: msg}})
}

// MailboxPutAsync queues msg without waiting. The caller must leave msg
// alone until sem (if not NoSem) is given on delivery.
func (t *Task) MailboxPutAsync(id MailboxID, msg *Message, sem SemID) error {
	return t.call(&packet{op: OpMboxPut, timeout: Forever, a: args{id: uint16(id), msg: msg, async: true, sem: sem}})
}

// MailboxGet receives a message into msg.
func (t *Task) MailboxGet(id MailboxID, msg *Message, timeout Ticks) error {
	return t.call(&packet{op: OpMboxGet, timeout: timeout, a: args{id: uint16(id), msg: msg}})
}

// MailboxStatus returns a snapshot of the mailbox.
func (k *Kernel) MailboxStatus(id MailboxID) (MailboxStatus, error) {
	var st MailboxStatus
	var lerr error
	err := k.inspect(func() {
		mb, err := k.lookupMailbox(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		st = MailboxStatus{Name: mb.name, PendingPuts: mb.puts.Len(), PendingGets: mb.gets.Len()}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupMailbox(id uint16) (*mailbox, error) {
	if int(id) >= len(k.mailboxes) {
		return nil, errUnknownObject("mailbox", int(id))
	}
	return k.mailboxes[id], nil
}

func mboxMatch(tx, rx *mboxRequest) bool {
	return (tx.msg.RxTask == AnyTask || tx.msg.RxTask == rx.task) &&
		(rx.msg.TxTask == AnyTask || rx.msg.TxTask == tx.task)
}

// mboxDeliver copies the message and exchanges the bookkeeping fields.
func mboxDeliver(tx, rx *mboxRequest) {
	n := copy(rx.msg.Data, tx.msg.Data)
	tx.msg.Size = n
	rx.msg.Size = n
	tx.msg.Info, rx.msg.Info = rx.msg.Info, tx.msg.Info
	tx.msg.RxTask = rx.task
	rx.msg.TxTask = tx.task
}

func (k *Kernel) handleMboxPut(p *packet) {
	mb, err := k.lookupMailbox(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if p.a.msg == nil {
		p.complete(errFail("nil message"))
		return
	}
	if p.a.async && p.a.sem != NoSem {
		if _, err := k.lookupSem(p.a.sem); err != nil {
			p.complete(err)
			return
		}
	}
	tx := &mboxRequest{msg: p.a.msg, task: p.callerID(), async: p.a.async, sem: p.a.sem}

	for _, w := range mb.gets.snapshot() {
		if !mboxMatch(tx, w.mbox) {
			continue
		}
		mboxDeliver(tx, w.mbox)
		k.wake(w, nil)
		if tx.async {
			k.mboxAsyncDone(tx)
		}
		p.complete(nil)
		return
	}

	if tx.async {
		// Park the message on behalf of the sender and let it continue.
		w := &waiter{pkt: &packet{op: OpMboxPut}, mbox: tx}
		if p.caller != nil {
			w.prio = p.caller.prio
		}
		mb.puts.insert(w)
		w.queues = []*waitQueue{&mb.puts}
		p.complete(nil)
		return
	}
	if !k.canWait(p, "mailbox receiver") {
		return
	}
	w := k.block(p, StateMboxSend, &mb.puts)
	w.mbox = tx
}

func (k *Kernel) handleMboxGet(p *packet) {
	mb, err := k.lookupMailbox(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if p.a.msg == nil {
		p.complete(errFail("nil message"))
		return
	}
	rx := &mboxRequest{msg: p.a.msg, task: p.callerID()}

	for _, w := range mb.puts.snapshot() {
		if !mboxMatch(w.mbox, rx) {
			continue
		}
		mboxDeliver(w.mbox, rx)
		k.wake(w, nil)
		if w.mbox.async {
			k.mboxAsyncDone(w.mbox)
		}
		p.complete(nil)
		return
	}
	if !k.canWait(p, "mailbox message") {
		return
	}
	w := k.block(p, StateMboxRecv, &mb.gets)
	w.mbox = rx
}

func (k *Kernel) mboxAsyncDone(tx *mboxRequest) {
	if tx.sem == NoSem {
		return
	}
	_ = k.semGive(tx.sem)
}
