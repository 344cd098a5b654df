package simulation

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/galdor/go-simnet/pkg/simnet"
)

// Op is an operator command applied to a simulation. Ops are encoded as a
// line of text: the name of the op followed by its arguments separated by
// spaces.
type Op interface {
	Name() string
	Encode(*bytes.Buffer)
	Decode([]string) error
	Apply(context.Context, *Simulation) error
}

func EncodeOp(op Op) string {
	var buf bytes.Buffer

	buf.WriteString(op.Name())
	op.Encode(&buf)

	return buf.String()
}

func DecodeOp(s string) (Op, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty op")
	}

	var op Op

	name := fields[0]
	switch name {
	case "populate":
		op = &OpPopulate{}
	case "new":
		op = &OpNew{}
	case "lock":
		op = &OpLock{}
	case "send":
		op = &OpSend{}
	case "next":
		op = &OpNext{}
	case "flush":
		op = &OpFlush{}
	case "rnd":
		op = &OpRandom{}
	case "rndflush":
		op = &OpRandomFlush{}
	case "forward":
		op = &OpForward{}
	case "flush-after":
		op = &OpFlushAfter{}
	case "candidate":
		op = &OpCandidate{}
	case "round":
		op = &OpRound{}
	case "elect":
		op = &OpElect{}
	default:
		return nil, fmt.Errorf("unknown op %q", name)
	}

	if err := op.Decode(fields[1:]); err != nil {
		return nil, fmt.Errorf("invalid %s op: %w", name, err)
	}

	return op, nil
}

func DecodeOps(lines []string) ([]Op, error) {
	ops := make([]Op, len(lines))

	for i, line := range lines {
		op, err := DecodeOp(line)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i+1, err)
		}

		ops[i] = op
	}

	return ops, nil
}

func checkNbArgs(args []string, min, max int) error {
	if len(args) < min {
		return fmt.Errorf("missing argument(s)")
	}

	if max >= 0 && len(args) > max {
		return fmt.Errorf("too many arguments")
	}

	return nil
}

func decodeInteger(s string, min int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}

	if i < min {
		return 0, fmt.Errorf("invalid value %d: must be greater or equal "+
			"to %d", i, min)
	}

	return i, nil
}

func decodeProcessId(s string) (simnet.ProcessId, error) {
	switch s {
	case "broadcast", "*":
		return simnet.Broadcast, nil
	}

	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid process id %q", s)
	}

	return simnet.ProcessId(i), nil
}

func encodeArgs(buf *bytes.Buffer, args ...interface{}) {
	for _, arg := range args {
		buf.WriteByte(' ')
		fmt.Fprintf(buf, "%v", arg)
	}
}

// Registers n processes and locks the network.
type OpPopulate struct {
	N int `json:"n"`
}

func (op OpPopulate) Name() string {
	return "populate"
}

func (op OpPopulate) Encode(buf *bytes.Buffer) {
	encodeArgs(buf, op.N)
}

func (op *OpPopulate) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 1, 1); err != nil {
		return
	}

	op.N, err = decodeInteger(args[0], 1)
	return
}

func (op *OpPopulate) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Populate(op.N)
	return err
}

// Registers a single process, with an automatic id if none is provided.
type OpNew struct {
	Id simnet.ProcessId `json:"id,omitempty"`
}

func (op OpNew) Name() string {
	return "new"
}

func (op OpNew) Encode(buf *bytes.Buffer) {
	if op.Id > 0 {
		encodeArgs(buf, int(op.Id))
	}
}

func (op *OpNew) Decode(args []string) error {
	if err := checkNbArgs(args, 0, 1); err != nil {
		return err
	}

	if len(args) == 1 {
		id, err := decodeInteger(args[0], 1)
		if err != nil {
			return err
		}

		op.Id = simnet.ProcessId(id)
	}

	return nil
}

func (op *OpNew) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Spawn(op.Id)
	return err
}

type OpLock struct{}

func (op OpLock) Name() string {
	return "lock"
}

func (op OpLock) Encode(buf *bytes.Buffer) {
}

func (op *OpLock) Decode(args []string) error {
	return checkNbArgs(args, 0, 0)
}

func (op *OpLock) Apply(ctx context.Context, s *Simulation) error {
	s.Lock()
	return nil
}

// Makes a process send a message; the body is the rest of the line.
type OpSend struct {
	From simnet.ProcessId `json:"from"`
	To   simnet.ProcessId `json:"to"`
	Body string           `json:"body"`
}

func (op OpSend) Name() string {
	return "send"
}

func (op OpSend) Encode(buf *bytes.Buffer) {
	encodeArgs(buf, int(op.From), int(op.To), op.Body)
}

func (op *OpSend) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 3, -1); err != nil {
		return
	}

	if op.From, err = decodeProcessId(args[0]); err != nil {
		return
	}

	if op.To, err = decodeProcessId(args[1]); err != nil {
		return
	}

	op.Body = strings.Join(args[2:], " ")

	return
}

func (op *OpSend) Apply(ctx context.Context, s *Simulation) error {
	return s.Send(op.From, op.To, op.Body)
}

// Delivers the oldest queued message.
type OpNext struct{}

func (op OpNext) Name() string {
	return "next"
}

func (op OpNext) Encode(buf *bytes.Buffer) {
}

func (op *OpNext) Decode(args []string) error {
	return checkNbArgs(args, 0, 0)
}

func (op *OpNext) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Router.DispatchSequential()
	return err
}

// Delivers every queued message in FIFO order.
type OpFlush struct{}

func (op OpFlush) Name() string {
	return "flush"
}

func (op OpFlush) Encode(buf *bytes.Buffer) {
}

func (op *OpFlush) Decode(args []string) error {
	return checkNbArgs(args, 0, 0)
}

func (op *OpFlush) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Router.DispatchAll()
	return err
}

// Delivers a random queued message.
type OpRandom struct{}

func (op OpRandom) Name() string {
	return "rnd"
}

func (op OpRandom) Encode(buf *bytes.Buffer) {
}

func (op *OpRandom) Decode(args []string) error {
	return checkNbArgs(args, 0, 0)
}

func (op *OpRandom) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Router.DispatchRandomOne()
	return err
}

// Delivers every queued message in random order.
type OpRandomFlush struct{}

func (op OpRandomFlush) Name() string {
	return "rndflush"
}

func (op OpRandomFlush) Encode(buf *bytes.Buffer) {
}

func (op *OpRandomFlush) Decode(args []string) error {
	return checkNbArgs(args, 0, 0)
}

func (op *OpRandomFlush) Apply(ctx context.Context, s *Simulation) error {
	_, err := s.Router.DispatchRandomAll()
	return err
}

// Delivers the message at a position in the queue.
type OpForward struct {
	Index int `json:"index"`
}

func (op OpForward) Name() string {
	return "forward"
}

func (op OpForward) Encode(buf *bytes.Buffer) {
	encodeArgs(buf, op.Index)
}

func (op *OpForward) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 1, 1); err != nil {
		return
	}

	op.Index, err = decodeInteger(args[0], 0)
	return
}

func (op *OpForward) Apply(ctx context.Context, s *Simulation) error {
	return s.Router.DispatchIndex(op.Index)
}

// Delivers, oldest first, every queued message except the first Index
// ones, which stay in the queue.
type OpFlushAfter struct {
	Index int `json:"index"`
}

func (op OpFlushAfter) Name() string {
	return "flush-after"
}

func (op OpFlushAfter) Encode(buf *bytes.Buffer) {
	encodeArgs(buf, op.Index)
}

func (op *OpFlushAfter) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 1, 1); err != nil {
		return
	}

	op.Index, err = decodeInteger(args[0], 0)
	return
}

func (op *OpFlushAfter) Apply(ctx context.Context, s *Simulation) error {
	position := 0

	_, err := s.Router.DispatchMatching(func(simnet.Message) bool {
		position++
		return position > op.Index
	})

	return err
}

type OpCandidate struct {
	Id simnet.ProcessId `json:"id"`
}

func (op OpCandidate) Name() string {
	return "candidate"
}

func (op OpCandidate) Encode(buf *bytes.Buffer) {
	encodeArgs(buf, int(op.Id))
}

func (op *OpCandidate) Decode(args []string) error {
	if err := checkNbArgs(args, 1, 1); err != nil {
		return err
	}

	id, err := decodeInteger(args[0], 1)
	if err != nil {
		return err
	}

	op.Id = simnet.ProcessId(id)

	return nil
}

func (op *OpCandidate) Apply(ctx context.Context, s *Simulation) error {
	return s.StartCandidate(op.Id)
}

// Plays N rounds (one by default).
type OpRound struct {
	N int `json:"n"`
}

func (op OpRound) Name() string {
	return "round"
}

func (op OpRound) Encode(buf *bytes.Buffer) {
	if op.N > 1 {
		encodeArgs(buf, op.N)
	}
}

func (op *OpRound) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 0, 1); err != nil {
		return
	}

	op.N = 1
	if len(args) == 1 {
		op.N, err = decodeInteger(args[0], 1)
	}

	return
}

func (op *OpRound) Apply(ctx context.Context, s *Simulation) error {
	n := op.N
	if n == 0 {
		n = 1
	}

	for i := 0; i < n; i++ {
		if err := s.AdvanceRound(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Plays rounds until the election is over.
type OpElect struct {
	MaxRounds int `json:"maxRounds"`
}

const DefaultMaxElectionRounds = 256

func (op OpElect) Name() string {
	return "elect"
}

func (op OpElect) Encode(buf *bytes.Buffer) {
	if op.MaxRounds > 0 {
		encodeArgs(buf, op.MaxRounds)
	}
}

func (op *OpElect) Decode(args []string) (err error) {
	if err = checkNbArgs(args, 0, 1); err != nil {
		return
	}

	if len(args) == 1 {
		op.MaxRounds, err = decodeInteger(args[0], 1)
	}

	return
}

func (op *OpElect) Apply(ctx context.Context, s *Simulation) error {
	maxRounds := op.MaxRounds
	if maxRounds == 0 {
		maxRounds = DefaultMaxElectionRounds
	}

	_, err := s.RunElection(ctx, maxRounds)
	return err
}
