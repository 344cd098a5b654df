package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/galdor/go-program"
	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/pterm/pterm"
)

type processRegistration struct {
	Id      simnet.ProcessId `json:"id,omitempty"`
	Address string           `json:"address"`
}

type processView struct {
	Id simnet.ProcessId `json:"id"`
}

func cmdHost(p *program.Program) {
	logger := newLogger(p)

	listenAddress := p.OptionValue("listen")

	id, err := strconv.Atoi(p.OptionValue("id"))
	if err != nil || id < 0 {
		p.Fatal("invalid process id %q", p.OptionValue("id"))
	}

	process, err := newHostedProcess(p.OptionValue("protocol"), logger)
	if err != nil {
		p.Fatal("%v", err)
	}

	server := simnet.TransportServer{
		Log: logger,

		Address: listenAddress,
		Handler: &simnet.ProcessServer{
			Log: logger,

			Process: process,
			Network: simnet.NewHTTPNetwork(p.OptionValue("router"), logger),
		},
	}

	errorChan := make(chan error, 1)

	if err := server.Start(errorChan); err != nil {
		p.Fatal("cannot start server: %v", err)
	}
	defer server.Stop()

	registration := processRegistration{
		Id:      simnet.ProcessId(id),
		Address: listenAddress,
	}

	assignedId, err := register(p.OptionValue("api"), registration)
	if err != nil {
		p.Fatal("cannot register process: %v", err)
	}

	pterm.Success.Printfln("registered as process %d", assignedId)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println()

	case err := <-errorChan:
		p.Error("%v", err)
	}
}

func newHostedProcess(protocol string, logger *Logger) (simnet.Process, error) {
	switch protocol {
	case "echo":
		return simnet.NewEchoProcess(simnet.EchoProcessCfg{
			Logger: logger,
		})

	case "causal":
		return simnet.NewCausalProcess(simnet.CausalProcessCfg{
			Logger: logger,
			DeliverFunc: func(msg simnet.Message) {
				pterm.Info.Printfln("delivered %q from process %d (clock: %v)",
					msg.Body, msg.Sender, msg.Clock)
			},
		})

	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}

func register(apiAddress string, registration processRegistration) (simnet.ProcessId, error) {
	data, err := json.Marshal(registration)
	if err != nil {
		return 0, fmt.Errorf("cannot encode registration: %w", err)
	}

	client := http.Client{Timeout: 10 * time.Second}

	uri := "http://" + apiAddress + "/processes"

	res, err := client.Post(uri, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("cannot read response: %w", err)
	}

	if res.StatusCode != 201 {
		return 0, fmt.Errorf("request failed with status %d: %s",
			res.StatusCode, bytes.TrimSpace(body))
	}

	var view processView
	if err := json.Unmarshal(body, &view); err != nil {
		return 0, fmt.Errorf("cannot decode response: %w", err)
	}

	return view.Id, nil
}
