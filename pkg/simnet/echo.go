package simnet

import "fmt"

type EchoProcessCfg struct {
	Logger Logger

	// If set, the process broadcasts this body when the network starts.
	Greeting string
}

// EchoProcess records everything it receives and has no ordering logic of
// its own.
type EchoProcess struct {
	node

	Cfg EchoProcessCfg

	received *DeliveryLog
}

func NewEchoProcess(cfg EchoProcessCfg) (*EchoProcess, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	p := &EchoProcess{
		node: node{
			Log: cfg.Logger,
		},

		Cfg: cfg,

		received: NewDeliveryLog(),
	}

	return p, nil
}

func (p *EchoProcess) Start() {
	if p.Cfg.Greeting == "" {
		return
	}

	if err := p.Send(Broadcast, p.Cfg.Greeting); err != nil {
		p.Log.Error("process %d cannot send greeting: %v", p.Id(), err)
	}
}

func (p *EchoProcess) Receive(msg Message) {
	if msg.IsPulse() {
		p.signalReady()
		return
	}

	p.Log.Info("process %d received %v", p.Id(), msg)
	p.received.Append(msg)
}

func (p *EchoProcess) Send(recipient ProcessId, body string) error {
	return p.sendMsg(NewMessage(p.Id(), recipient, body))
}

func (p *EchoProcess) Received() *DeliveryLog {
	return p.received
}
