package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/libbyhq/libby/pkg/buildinfo"
)

const (
	maxLine       = 4 << 20
	maxConcurrent = 8
)

// Serve reads requests from r, one JSON object per line, and writes one
// response line per request to w. Requests run concurrently, so responses
// may come back out of order; callers match them by ID. Serve returns when
// r reaches EOF (after in-flight requests finish) or ctx is done.
func (e *Engine) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	reply := func(resp Response) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(resp)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLine)
	for sc.Scan() {
		if gctx.Err() != nil {
			break
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := reply(Response{Error: &RPCError{Message: "malformed request: " + err.Error()}}); err != nil {
				return err
			}
			continue
		}
		g.Go(func() error {
			return reply(e.handle(gctx, req))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return ctx.Err()
}

func (e *Engine) handle(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}
	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodPing:
		result = PingResult{Version: buildinfo.Version}
	case MethodResolve:
		var p ResolveParams
		if err = json.Unmarshal(req.Params, &p); err != nil {
			err = fmt.Errorf("bad params: %w", err)
			break
		}
		result, err = e.Resolve(ctx, p)
	default:
		err = fmt.Errorf("unknown method %q", req.Method)
	}
	if err != nil {
		e.logger.Debug("request failed", "id", req.ID, "method", req.Method, "err", err)
		resp.Error = &RPCError{Message: err.Error()}
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}
