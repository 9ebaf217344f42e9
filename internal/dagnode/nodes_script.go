package dagnode

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/dobrevit/formwaf/internal/logging"
)

// scriptNode evaluates a sandboxed JavaScript predicate over the request
// context, for rules too irregular for the pattern language. A fresh
// runtime per evaluation keeps scripts isolated; a hard interrupt bounds
// runaway scripts.
type scriptNode struct {
	logger *logging.Logger
}

func (n *scriptNode) Kind() string { return "script" }

const scriptDefaultTimeout = 50 * time.Millisecond

func (n *scriptNode) Evaluate(ctx context.Context, req *RequestContext, cfg Config) (*Result, error) {
	source := cfg.String("source")
	if source == "" {
		return ContinueResult(), nil
	}

	timeout := scriptDefaultTimeout
	if ms, ok := cfg.CeilingFloat("timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	vm := goja.New()

	fields := vm.NewObject()
	for k, v := range req.Fields {
		_ = fields.Set(k, v)
	}
	headers := vm.NewObject()
	for k := range req.Headers {
		_ = headers.Set(k, req.Headers.Get(k))
	}
	request := vm.NewObject()
	_ = request.Set("host", req.Host)
	_ = request.Set("path", req.Path)
	_ = request.Set("method", req.Method)
	if req.ClientIP != nil {
		_ = request.Set("clientIp", req.ClientIP.String())
	}
	_ = request.Set("fields", fields)
	_ = request.Set("headers", headers)
	_ = request.Set("formHash", req.FormHash)
	_ = request.Set("fingerprint", req.Fingerprint)
	_ = vm.Set("request", request)

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("script execution timed out")
	})
	defer timer.Stop()

	value, err := vm.RunString(source)
	if err != nil {
		if n.logger != nil {
			n.logger.WithComponent("script_node").WithError(err).Warn("Script evaluation failed; treating as continue")
		}
		res := ContinueResult()
		res.Flags = []string{"script:error"}
		return res, nil
	}

	return n.interpret(value, cfg), nil
}

// interpret maps the script's return value onto the node contract: a
// boolean blocks or continues; an object may carry {block, score, flag}.
func (n *scriptNode) interpret(value goja.Value, cfg Config) *Result {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return ContinueResult()
	}

	if b, ok := value.Export().(bool); ok {
		if b {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 75),
				Flags:   []string{"script:blocked"},
			}
		}
		return ContinueResult()
	}

	if obj, ok := value.Export().(map[string]interface{}); ok {
		res := ContinueResult()
		out := Config(obj)
		if score, ok := out.Float("score"); ok {
			res.Score = score
		}
		if flag := out.String("flag"); flag != "" {
			res.Flags = append(res.Flags, "script:"+flag)
		}
		if out.Bool("block") {
			res.Outcome = OutcomeBlocked
			if res.Score == 0 {
				res.Score = scoreOr(cfg, 75)
			}
		}
		return res
	}

	return ContinueResult()
}
