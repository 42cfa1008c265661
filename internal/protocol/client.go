package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/substratelabs/mcpgate/internal/errs"
)

// ConvenienceSession is the client shape exposing dedicated tool operations.
// *mcp.ClientSession satisfies it.
type ConvenienceSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// GenericSession is the client shape offering only generic method dispatch.
// Implementations route a raw protocol method with parameters and return the
// raw result.
type GenericSession interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// shape tags which underlying client shape was detected at construction, so
// calls dispatch without re-probing.
type shape int

const (
	shapeConvenience shape = iota
	shapeGeneric
)

// Client presents one stable two-operation surface (list tools, call tool)
// over either underlying client shape. It performs no retries: tool calls may
// have side effects that are unsafe to repeat blindly, so retry policy
// belongs to the caller.
type Client struct {
	log         *slog.Logger
	shape       shape
	convenience ConvenienceSession
	generic     GenericSession
	closer      func() error
}

// Wrap builds a Client over an already-connected session, selecting the
// dispatch shape once. The convenience shape is preferred when the session
// exposes it.
func Wrap(log *slog.Logger, session any) (*Client, error) {
	c := &Client{log: log.With("component", "protocol_client")}

	switch s := session.(type) {
	case ConvenienceSession:
		c.shape = shapeConvenience
		c.convenience = s
		c.closer = s.Close
	case GenericSession:
		c.shape = shapeGeneric
		c.generic = s
		c.closer = s.Close
	default:
		return nil, fmt.Errorf("session %T exposes neither tool methods nor generic dispatch", session)
	}

	return c, nil
}

// Connect performs the protocol handshake over the given transport and
// returns a Client bound to the resulting session. Handshake failure returns
// an error and leaves nothing to clean up beyond the transport itself.
func Connect(ctx context.Context, log *slog.Logger, t mcp.Transport, name, version string) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil)

	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return Wrap(log, session)
}

// ListTools returns the tools advertised by the connected server as a bare
// sequence, regardless of whether the underlying shape produced a typed
// result or a raw payload (bare array or a {tools: [...]} wrapper).
func (c *Client) ListTools(ctx context.Context) ([]map[string]any, error) {
	switch c.shape {
	case shapeConvenience:
		res, err := c.convenience.ListTools(ctx, nil)
		if err != nil {
			return nil, err
		}

		return toolMaps(res.Tools)

	default:
		raw, err := c.generic.Call(ctx, "tools/list", nil)
		if err != nil {
			return nil, err
		}

		return normalizeToolList(raw)
	}
}

// CallTool invokes the named tool with the given arguments, defaulting to an
// empty argument structure. The result is returned exactly as produced: tool
// results are opaque payloads defined by each tool, not by the proxy.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}

	c.log.Debug("Calling tool", "tool", name)

	switch c.shape {
	case shapeConvenience:
		res, err := c.convenience.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		})
		if err != nil {
			return nil, err
		}

		return res, nil

	default:
		raw, err := c.generic.Call(ctx, "tools/call", map[string]any{
			"name":      name,
			"arguments": args,
		})
		if err != nil {
			return nil, err
		}

		return raw, nil
	}
}

// Close shuts down the underlying session.
func (c *Client) Close() error {
	return c.closer()
}

// toolMaps flattens typed tool descriptors to plain JSON objects so both
// shapes yield the same caller-facing form.
func toolMaps(tools []*mcp.Tool) ([]map[string]any, error) {
	result := make([]map[string]any, 0, len(tools))

	for _, tool := range tools {
		data, err := json.Marshal(tool)
		if err != nil {
			return nil, fmt.Errorf("marshal tool %q: %w", tool.Name, err)
		}

		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal tool %q: %w", tool.Name, err)
		}

		result = append(result, m)
	}

	return result, nil
}

// normalizeToolList accepts either a bare tool sequence or a wrapper object
// with a "tools" field and returns the bare sequence.
func normalizeToolList(raw json.RawMessage) ([]map[string]any, error) {
	var bare []map[string]any
	if err := json.Unmarshal(raw, &bare); err == nil {
		if bare == nil {
			bare = []map[string]any{}
		}

		return bare, nil
	}

	var wrapper struct {
		Tools []map[string]any `json:"tools"`
	}

	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, &errs.ProtocolDecodeError{RawData: string(raw), Err: err}
	}

	if wrapper.Tools == nil {
		wrapper.Tools = []map[string]any{}
	}

	return wrapper.Tools, nil
}
