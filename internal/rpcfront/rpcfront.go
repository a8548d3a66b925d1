// Package rpcfront is the HTTP front-end that receives JSON-RPC
// requests and forwards them upstream. It is a minimal, secondary
// implementation so the repository runs end-to-end: a reverse proxy
// extended to rewrite the upstream host per-request by RLP-decoding
// eth_sendRawTransaction's "to" field and consulting RouteStore.
package rpcfront

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethdenver2026/relay/internal/routestore"
)

// jsonrpcRequest is the subset of a JSON-RPC request this proxy reads.
type jsonrpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// RPC is a reverse proxy that forwards JSON-RPC requests to an upstream
// node, routing eth_sendRawTransaction calls by the transaction's
// destination contract address when RouteStore has an admitted route.
type RPC struct {
	proxy      *httputil.ReverseProxy
	store      *routestore.Store
	defaultURL *url.URL
}

// New creates an RPC front end targeting defaultUpstreamURL by default,
// consulting store for per-contract routing overrides.
func New(defaultUpstreamURL string, store *routestore.Store) (*RPC, error) {
	target, err := url.Parse(defaultUpstreamURL)
	if err != nil {
		return nil, err
	}

	rp := &httputil.ReverseProxy{}
	r := &RPC{proxy: rp, store: store, defaultURL: target}

	rp.Director = func(req *http.Request) {
		dest := target
		if body, ok := peekAndRestore(req); ok {
			if to, ok := destinationOf(body); ok {
				if routedURL := store.GetTarget(to, ""); routedURL != "" {
					if parsed, err := url.Parse(routedURL); err == nil {
						dest = parsed
					}
				}
			}
		}

		req.URL.Scheme = dest.Scheme
		req.URL.Host = dest.Host
		req.URL.Path = dest.Path
		req.Host = dest.Host

		// Strip headers that could identify or correlate the
		// originating client before forwarding upstream. A nil
		// X-Forwarded-For (rather than a deleted one) stops the reverse
		// proxy from appending the client IP itself.
		req.Header["X-Forwarded-For"] = nil
		req.Header.Del("X-Forwarded-Host")
		req.Header.Del("X-Forwarded-Proto")
		req.Header.Del("X-Real-Ip")
		req.Header.Del("Forwarded")
		req.Header.Del("Via")
	}

	rp.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		slog.Error("rpcfront: upstream error", "err", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	return r, nil
}

// ServeHTTP forwards the request to the selected upstream.
func (r *RPC) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.proxy.ServeHTTP(w, req)
}

// peekAndRestore reads the request body (if any) and restores it so the
// reverse proxy can still forward it unchanged.
func peekAndRestore(req *http.Request) ([]byte, bool) {
	if req.Body == nil {
		return nil, false
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, false
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	return body, true
}

// destinationOf extracts the "to" address from an
// eth_sendRawTransaction JSON-RPC request body by RLP-decoding the raw
// transaction hex in params[0].
func destinationOf(body []byte) (string, bool) {
	var req jsonrpcRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method != "eth_sendRawTransaction" {
		return "", false
	}
	if len(req.Params) == 0 {
		return "", false
	}
	rawHex, ok := req.Params[0].(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(rawHex)
	if err != nil {
		return "", false
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", false
	}
	to := tx.To()
	if to == nil {
		return "", false // contract creation: no destination to route on
	}
	return to.Hex(), true
}
