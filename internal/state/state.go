// Package state locates the page-embedded initial state assignment and
// evaluates it in an isolated script runtime.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const (
	stateMarker = "window.__INITIAL_STATE__="
	scriptEnd   = "</script>"

	// Stand-in globals so the literal evaluates without a document.
	prelude = "var window = {}; var document = {}; var navigator = {};\n"

	maxDepth    = 128
	maxArrayLen = 10000
	maxNodes    = 1 << 20
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 2 * time.Second

var (
	errNotObject = errors.New("state: initial state is not an object")
	errTooLarge  = errors.New("state: initial state too large")
)

// ExtractScript returns the object-literal expression assigned to the
// initial state, or false when the page carries none.
func ExtractScript(html string) (string, bool) {
	start := strings.Index(html, stateMarker)
	if start < 0 {
		return "", false
	}
	rest := html[start+len(stateMarker):]
	end := strings.Index(rest, scriptEnd)
	if end < 0 {
		return "", false
	}
	expr := strings.TrimSpace(rest[:end])
	expr = strings.TrimSuffix(expr, ";")
	if expr == "" {
		return "", false
	}
	return expr, true
}

// Evaluator runs state expressions. The runtime it creates has no file
// system, network, or timer bindings.
type Evaluator struct {
	Timeout time.Duration
}

// Evaluate runs expr and converts the resulting object into a Node.
func (e Evaluator) Evaluate(ctx context.Context, expr string) (Node, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.Now().Add(timeout)
	vm := goja.New()
	done := make(chan struct{})
	defer close(done)

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-timer.C:
			vm.Interrupt(fmt.Errorf("state: evaluation exceeded %s", timeout))
		}
	}()

	if _, err := vm.RunString(prelude + "window.__INITIAL_STATE__=(" + expr + ");"); err != nil {
		return Node{}, fmt.Errorf("state: evaluate: %w", err)
	}

	window, ok := vm.Get("window").(*goja.Object)
	if !ok {
		return Node{}, errNotObject
	}
	root, ok := window.Get("__INITIAL_STATE__").(*goja.Object)
	if !ok || root.ClassName() == "Array" {
		return Node{}, errNotObject
	}
	c := converter{ctx: ctx, deadline: deadline}
	node := c.convert(root, 0)
	if c.err != nil {
		return Node{}, c.err
	}
	return node, nil
}

// Parse extracts and evaluates the page state. It returns false when the
// page has no state or the state cannot be evaluated.
func (e Evaluator) Parse(ctx context.Context, html string) (Node, bool) {
	expr, ok := ExtractScript(html)
	if !ok {
		return Node{}, false
	}
	root, err := e.Evaluate(ctx, expr)
	if err != nil {
		return Node{}, false
	}
	return root, true
}

// converter walks an evaluated value into a Node tree within a node budget
// and the evaluation deadline. Shared references are walked once per path.
type converter struct {
	ctx      context.Context
	deadline time.Time
	nodes    int
	err      error
}

func (c *converter) check() bool {
	if c.err != nil {
		return false
	}
	c.nodes++
	if c.nodes > maxNodes {
		c.err = errTooLarge
		return false
	}
	if c.nodes%1024 == 0 {
		if err := c.ctx.Err(); err != nil {
			c.err = fmt.Errorf("state: convert: %w", err)
			return false
		}
		if time.Now().After(c.deadline) {
			c.err = errors.New("state: conversion exceeded deadline")
			return false
		}
	}
	return true
}

func (c *converter) convert(v goja.Value, depth int) Node {
	if !c.check() {
		return Node{}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) || depth > maxDepth {
		return Node{}
	}

	obj, isObj := v.(*goja.Object)
	if !isObj {
		switch t := v.Export().(type) {
		case bool:
			return Node{kind: Bool, b: t}
		case string:
			return Node{kind: String, str: t}
		case int64:
			return Node{kind: Number, num: float64(t)}
		case float64:
			return Node{kind: Number, num: t}
		default:
			return Node{}
		}
	}

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		if n < 0 || n > maxArrayLen {
			c.err = errTooLarge
			return Node{}
		}
		items := make([]Node, n)
		for i := range items {
			items[i] = c.convert(obj.Get(strconv.Itoa(i)), depth+1)
		}
		return Node{kind: Array, items: items}
	case "Function":
		return Node{}
	}

	keys := obj.Keys()
	fields := make(map[string]Node, len(keys))
	for _, k := range keys {
		fields[k] = c.convert(obj.Get(k), depth+1)
	}
	return NewObject(keys, fields)
}
