package dispatcher

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/plexus/gateway/cooldown"
	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/router"
	"github.com/plexus/gateway/streaming"
	"github.com/plexus/gateway/unified"
)

// streamQueueDepth bounds the parse→emit handoff so a slow client write
// applies backpressure to upstream reading instead of the gateway
// buffering an unbounded number of parsed chunks in memory.
const streamQueueDepth = 64

// DispatchStream runs the streaming engine (spec §4.6) in place of
// Dispatch's unary tail: the same parse/route/credential/rewrite/emit
// steps, followed by an SSE pipeline from the upstream body to out.
func (d *Dispatcher) DispatchStream(ctx context.Context, dctx *DispatchContext, rawBody []byte, out io.Writer, flusher interface{ Flush() }) error {
	dctx.StartTime = time.Now()

	clientTransformer, err := dialect.Get(dctx.ClientDialect)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	req, err := clientTransformer.ParseRequest(rawBody)
	if err != nil {
		d.recordFailure(ctx, dctx, nil, "parse_error", err)
		return toDispatchError(err)
	}
	req.IncomingDialect = string(dctx.ClientDialect)
	dctx.Unified = req

	target, derr := d.route(req)
	if derr != nil {
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return derr
	}
	dctx.ChosenTarget = target

	cred, derr := d.acquireCredential(ctx, target)
	if derr != nil {
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return derr
	}
	dctx.Credential = cred

	chosenDialect, err := router.ChooseOutgoingDialect(target, req.IncomingDialect)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}
	outgoing := dialect.Name(chosenDialect)
	dctx.OutgoingDialect = outgoing
	upstreamTransformer, err := dialect.Get(outgoing)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	rewritten := d.rewriteRequest(req, target, cred, outgoing)
	rewritten.Stream = true

	body, err := upstreamTransformer.EmitRequest(rewritten)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}
	body, err = d.applyRequiredInjections(body, outgoing, cred)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := d.buildUpstreamRequest(streamCtx, target, cred, outgoing, upstreamTransformer, rewritten, body)
	if err != nil {
		return &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := d.streamingClient.Do(httpReq)
	if err != nil {
		derr := d.classifyTransportError(streamCtx, target, cred, err)
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return derr
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBytes, _ := io.ReadAll(resp.Body)
		derr := d.classifyStatus(ctx, target, cred, resp.StatusCode, respBytes)
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return derr
	}

	body2 := newIdleReader(resp.Body, cancel)

	var raw bytes.Buffer
	tee := io.TeeReader(body2, &raw)

	encoder := clientTransformer.NewStreamEncoder()
	writer := streaming.NewWriter(out, flusher)

	// parsed is the bounded parse→emit queue: the parsing goroutine blocks
	// once it's full, which backpressures upstream reading when the client
	// write side falls behind.
	frames, splitErr := streaming.Split(tee)
	var upstreamSplitErr error
	parsed := make(chan *unified.StreamChunk, streamQueueDepth)
	go func() {
		defer close(parsed)
		for frame := range frames {
			chunk, ok, perr := upstreamTransformer.ParseStreamChunk(dialect.StreamEvent{Event: frame.Event, Data: frame.Data})
			if perr != nil || !ok {
				continue // malformed or event-only frame from upstream: skip, keep the stream alive
			}
			parsed <- chunk
		}
		upstreamSplitErr = splitErr()
	}()

	var finalUsage *unified.Usage
	firstDeltaAt := time.Time{}

	for chunk := range parsed {
		if firstDeltaAt.IsZero() && (chunk.Kind == unified.ChunkDeltaText || chunk.Kind == unified.ChunkDeltaThinking) {
			firstDeltaAt = time.Now()
			ms := firstDeltaAt.Sub(dctx.StartTime).Milliseconds()
			dctx.TTFTMs = &ms
		}
		if chunk.Kind == unified.ChunkUsage && chunk.Usage != nil {
			finalUsage = chunk.Usage
		}

		events, eerr := encoder.Encode(chunk)
		if eerr != nil {
			return &Error{Kind: KindInternal, StatusCode: 500, Message: eerr.Error()}
		}
		for _, ev := range events {
			if werr := writer.WriteFrame(streaming.Frame{Event: ev.Event, Data: ev.Data}); werr != nil {
				d.recordFailure(ctx, dctx, req, "client_disconnect", newError(KindClientDisconnect, "client disconnected mid-stream"))
				return newError(KindClientDisconnect, "client write failed: "+werr.Error())
			}
		}
	}

	// ctx is the caller's request context, cancelled only by an actual client
	// disconnect. streamCtx is the derived child, cancelled additionally by
	// idleReader's idle-read timer. Check ctx first so a genuine client
	// disconnect is never misreported as an upstream failure, then fall back
	// to streamCtx and the splitter's own error for a truncated upstream
	// stream; a stream that did not finish must never markSuccess.
	if ctx.Err() != nil {
		d.recordFailure(ctx, dctx, req, "client_disconnect", newError(KindClientDisconnect, "client disconnected"))
		return newError(KindClientDisconnect, "client disconnected")
	}

	if upstreamSplitErr != nil || streamCtx.Err() != nil {
		d.markFailure(ctx, target, cred, cooldown.ReasonUpstream5xx)
		msg := "upstream stream interrupted"
		if upstreamSplitErr != nil {
			msg += ": " + upstreamSplitErr.Error()
		}
		derr := newError(KindUpstreamServerError, msg)
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return derr
	}

	if finalUsage == nil {
		if reconstructed, rerr := upstreamTransformer.ReconstructFromStream(raw.Bytes()); rerr == nil {
			finalUsage = &reconstructed.Usage
		}
	}

	d.markSuccess(ctx, target, cred)
	if finalUsage != nil {
		d.recordSuccess(ctx, dctx, req, *finalUsage, true)
	} else {
		d.recordSuccess(ctx, dctx, req, unified.Usage{}, true)
	}
	return nil
}
