package simnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceIdHeader carries the identifier of the process which sent a message
// over HTTP; it must match the sender of the message.
const SourceIdHeader = "X-Simnet-Source-Id"

func newHTTPClient() *http.Client {
	transport := http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns: 30,

		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := http.Client{
		Timeout:   10 * time.Second,
		Transport: &transport,
	}

	return &client
}

type attachRequest struct {
	Id ProcessId `json:"id"`
}

type sendRequest struct {
	Recipient ProcessId `json:"recipient"`
	Body      string    `json:"body"`
}

// HTTPPeer is the router-side handle of a process hosted in another program
// behind a ProcessServer.
type HTTPPeer struct {
	node

	Address string

	httpClient *http.Client
}

func NewHTTPPeer(address string, logger Logger) (*HTTPPeer, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if address == "" {
		return nil, fmt.Errorf("missing address")
	}

	p := &HTTPPeer{
		node: node{
			Log: logger,
		},

		Address: address,

		httpClient: newHTTPClient(),
	}

	return p, nil
}

func (p *HTTPPeer) Attach(id ProcessId, network Network) {
	p.node.Attach(id, network)

	data, err := json.Marshal(attachRequest{Id: id})
	if err != nil {
		p.Log.Error("cannot encode attach request: %v", err)
		return
	}

	if err := p.post("/attach", NetworkControl, data); err != nil {
		p.Log.Error("cannot attach remote process %d at %s: %v",
			id, p.Address, err)
	}
}

func (p *HTTPPeer) Start() {
	if err := p.post("/start", NetworkControl, nil); err != nil {
		p.Log.Error("cannot start remote process %d at %s: %v",
			p.Id(), p.Address, err)
	}
}

// Receive forwards the message to the remote process and waits for it to be
// processed, so that dispatch order is preserved across the network.
func (p *HTTPPeer) Receive(msg Message) {
	data, err := EncodeMessage(msg)
	if err != nil {
		p.Log.Error("cannot encode message: %v", err)
		return
	}

	if err := p.post("/messages", msg.Sender, data); err != nil {
		p.Log.Error("cannot deliver %v to %s: %v", msg, p.Address, err)
	}
}

// Send asks the remote process to send a message, so that the message goes
// through the protocol logic of the process.
func (p *HTTPPeer) Send(recipient ProcessId, body string) error {
	data, err := json.Marshal(sendRequest{Recipient: recipient, Body: body})
	if err != nil {
		return fmt.Errorf("cannot encode send request: %w", err)
	}

	return p.post("/send", NetworkControl, data)
}

func (p *HTTPPeer) post(path string, source ProcessId, data []byte) error {
	uri := url.URL{
		Scheme: "http",
		Host:   p.Address,
		Path:   path,
	}

	return postData(p.httpClient, uri, source, data)
}

// HTTPNetwork is the Network of a process hosted behind a ProcessServer: it
// submits messages to the router of a simnet daemon.
type HTTPNetwork struct {
	Log Logger

	// Address of the transport server of the daemon.
	RouterAddress string

	httpClient *http.Client
}

func NewHTTPNetwork(routerAddress string, logger Logger) *HTTPNetwork {
	return &HTTPNetwork{
		Log: logger,

		RouterAddress: routerAddress,

		httpClient: newHTTPClient(),
	}
}

func (n *HTTPNetwork) Send(msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("cannot encode message: %w", err)
	}

	uri := url.URL{
		Scheme: "http",
		Host:   n.RouterAddress,
		Path:   "/messages",
	}

	return postData(n.httpClient, uri, msg.Sender, data)
}

func (n *HTTPNetwork) Ids() []ProcessId {
	uri := url.URL{
		Scheme: "http",
		Host:   n.RouterAddress,
		Path:   "/processes",
	}

	res, err := n.httpClient.Get(uri.String())
	if err != nil {
		n.Log.Error("cannot fetch process ids: %v", err)
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		n.Log.Error("cannot fetch process ids: %v", responseError(res))
		return nil
	}

	var ids []ProcessId
	if err := json.NewDecoder(res.Body).Decode(&ids); err != nil {
		n.Log.Error("cannot decode process ids: %v", err)
		return nil
	}

	return ids
}

func postData(client *http.Client, uri url.URL, source ProcessId, data []byte) error {
	req, err := http.NewRequest("POST", uri.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cannot create http request: %w", err)
	}

	req.Header.Set(SourceIdHeader, strconv.Itoa(int(source)))

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != 204 {
		return responseError(res)
	}

	return nil
}

func responseError(res *http.Response) error {
	var msg string

	body, err := io.ReadAll(res.Body)
	if err == nil {
		msg = string(body)

		if idx := strings.IndexAny(msg, "\r\n"); idx > 0 {
			msg = msg[:idx]
		}

		if msg != "" {
			msg = ": " + msg
		}
	}

	return fmt.Errorf("request failed with status %d%s", res.StatusCode, msg)
}

// ProcessServer exposes a local process to a remote router.
type ProcessServer struct {
	Log Logger

	Process Process
	Network Network
}

func (s *ProcessServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		replyError(s.Log, w, 405, "unsupported method %s", req.Method)
		return
	}

	switch req.URL.Path {
	case "/attach":
		var attachReq attachRequest
		if err := json.NewDecoder(req.Body).Decode(&attachReq); err != nil {
			replyError(s.Log, w, 400, "invalid attach request: %v", err)
			return
		}

		if !attachReq.Id.IsProcess() {
			replyError(s.Log, w, 400, "invalid process id %d", attachReq.Id)
			return
		}

		s.Process.Attach(attachReq.Id, s.Network)
		s.Log.Info("attached as process %d", attachReq.Id)

	case "/start":
		s.Process.Start()

	case "/send":
		var sendReq sendRequest
		if err := json.NewDecoder(req.Body).Decode(&sendReq); err != nil {
			replyError(s.Log, w, 400, "invalid send request: %v", err)
			return
		}

		if err := s.Process.Send(sendReq.Recipient, sendReq.Body); err != nil {
			replyError(s.Log, w, 400, "cannot send message: %v", err)
			return
		}

	case "/messages":
		msg, err := readMessage(req)
		if err != nil {
			replyError(s.Log, w, 400, "%v", err)
			return
		}

		s.Process.Receive(msg)

	default:
		replyError(s.Log, w, 404, "unknown path %q", req.URL.Path)
		return
	}

	w.WriteHeader(204)
}

// RouterHandler lets remote processes submit messages to a router and list
// the registered processes.
type RouterHandler struct {
	Log Logger

	Router *Router
}

func (h *RouterHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/messages" && req.Method == "POST":
		msg, err := readMessage(req)
		if err != nil {
			replyError(h.Log, w, 400, "%v", err)
			return
		}

		if err := h.Router.Send(msg); err != nil {
			replyError(h.Log, w, 400, "cannot send message: %v", err)
			return
		}

		w.WriteHeader(204)

	case req.URL.Path == "/processes" && req.Method == "GET":
		data, err := json.Marshal(h.Router.Ids())
		if err != nil {
			replyError(h.Log, w, 500, "cannot encode process ids: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write(data)

	default:
		replyError(h.Log, w, 404, "unknown route %s %s",
			req.Method, req.URL.Path)
	}
}

func readMessage(req *http.Request) (Message, error) {
	sourceString := req.Header.Get(SourceIdHeader)
	if sourceString == "" {
		return Message{}, fmt.Errorf("missing or empty %s header field",
			SourceIdHeader)
	}

	source, err := strconv.Atoi(sourceString)
	if err != nil {
		return Message{}, fmt.Errorf("invalid %s header field",
			SourceIdHeader)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return Message{}, fmt.Errorf("cannot read request body: %w", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}

	if msg.Sender != ProcessId(source) {
		return Message{}, fmt.Errorf("sender %d does not match source id %d",
			msg.Sender, source)
	}

	return msg, nil
}

func replyError(log Logger, w http.ResponseWriter, status int, format string, args ...interface{}) {
	log.Error(format, args...)

	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}

// TransportServer runs an HTTP server for a transport handler.
type TransportServer struct {
	Log Logger

	Address string
	Handler http.Handler

	httpServer *http.Server
}

func (s *TransportServer) Start(errorChan chan<- error) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.Address, err)
	}

	s.Log.Info("transport listening on %s", listener.Addr())

	s.httpServer = &http.Server{
		Addr:              s.Address,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           s.Handler,
	}

	go func() {
		defer func() {
			if value := recover(); value != nil {
				msg := RecoverValueString(value)
				trace := StackTrace(10)
				s.Log.Error("panic: %s\n%s", msg, trace)
			}
		}()

		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			if errorChan != nil {
				errorChan <- fmt.Errorf("transport server error: %w", err)
			}
		}
	}()

	return nil
}

func (s *TransportServer) Stop() {
	if s.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.httpServer.Shutdown(ctx)
}
