// Package speedtesttest provides a fake speed-test probe server
// for use in tests.
package speedtesttest

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/httprequest"
	"github.com/julienschmidt/httprouter"
)

// Server implements the probe endpoints expected by speedtest.Client:
// a latency endpoint, a download endpoint that serves an arbitrary
// number of bytes and an upload endpoint that discards its body.
type Server struct {
	Addr string
	lis  net.Listener

	mu        sync.Mutex
	failure   string
	pingDelay time.Duration
}

var reqServer = &httprequest.Server{}

func NewServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		Addr: lis.Addr().String(),
		lis:  lis,
	}
	router := httprouter.New()
	for _, h := range reqServer.Handlers(srv.handler) {
		router.Handle(h.Method, h.Path, h.Handle)
	}
	go http.Serve(lis, router)
	return srv, nil
}

// SetFailure makes all endpoints fail with the given message until
// it's cleared with an empty string.
func (srv *Server) SetFailure(msg string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.failure = msg
}

// SetPingDelay adds an artificial delay to the latency endpoint.
func (srv *Server) SetPingDelay(d time.Duration) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.pingDelay = d
}

func (srv *Server) handler(p httprequest.Params) (handler, context.Context, error) {
	return handler{srv}, p.Context, nil
}

func (srv *Server) Close() {
	srv.lis.Close()
}

// failNow writes a failure response and reports whether one
// was configured.
func (srv *Server) failNow(w http.ResponseWriter) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.failure == "" {
		return false
	}
	http.Error(w, srv.failure, http.StatusInternalServerError)
	return true
}

type handler struct {
	srv *Server
}

type pingReq struct {
	httprequest.Route `httprequest:"GET /probe/ping"`
}

func (h handler) Ping(p httprequest.Params, req *pingReq) {
	if h.srv.failNow(p.Response) {
		return
	}
	h.srv.mu.Lock()
	delay := h.srv.pingDelay
	h.srv.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	p.Response.Write([]byte("pong"))
}

type downloadReq struct {
	httprequest.Route `httprequest:"GET /probe/download"`
	Bytes             int64 `httprequest:"bytes,form"`
}

func (h handler) Download(p httprequest.Params, req *downloadReq) {
	if h.srv.failNow(p.Response) {
		return
	}
	p.Response.Header().Set("Content-Type", "application/octet-stream")
	io.CopyN(p.Response, zeroReader{}, req.Bytes)
}

type uploadReq struct {
	httprequest.Route `httprequest:"POST /probe/upload"`
}

func (h handler) Upload(p httprequest.Params, req *uploadReq) {
	if h.srv.failNow(p.Response) {
		return
	}
	io.Copy(ioutil.Discard, p.Request.Body)
	p.Response.Write([]byte("ok"))
}

type zeroReader struct{}

func (zeroReader) Read(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
