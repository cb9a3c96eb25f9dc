package class

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narpc/narpc/pkg/handle"
	"github.com/narpc/narpc/pkg/proc"
)

type addReq struct {
	A, B int32
}

type addResp struct {
	Sum int32
}

func TestInitParsesProtocolAndName(t *testing.T) {
	c, err := Init("tcp://"+t.Name(), false)
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Protocol())
	assert.Equal(t, t.Name(), c.Name())
}

func TestInitRejectsMalformedAddress(t *testing.T) {
	_, err := Init("not-a-url", false)
	assert.Error(t, err)
}

func TestEagerSizeSubtractsHeader(t *testing.T) {
	c, err := InitOpt("tcp://"+t.Name(), false, Options{InputEagerSize: 100, OutputEagerSize: 100})
	require.NoError(t, err)
	assert.Less(t, c.InputEagerSize(), 100)
	assert.Less(t, c.OutputEagerSize(), 100)
}

func TestCreateContextWithIDRejectsDuplicate(t *testing.T) {
	c, err := Init("tcp://"+t.Name(), false)
	require.NoError(t, err)

	_, err = c.CreateContextWithID(5)
	require.NoError(t, err)
	_, err = c.CreateContextWithID(5)
	assert.Error(t, err)
}

func TestFinalizeRefusesWhileContextsOpen(t *testing.T) {
	c, err := Init("tcp://"+t.Name(), false)
	require.NoError(t, err)

	ctx, err := c.CreateContext()
	require.NoError(t, err)

	assert.Error(t, c.Finalize())

	require.NoError(t, ctx.Destroy())
	assert.NoError(t, c.Finalize())
}

func TestContextDestroyRefusesWhileHandlesLive(t *testing.T) {
	entered := make(chan struct{})

	server, err := Init("tcp://"+t.Name()+"-server", true)
	require.NoError(t, err)
	// The handler deliberately never calls Respond, so the inbound handle
	// it was dispatched with stays live until the test observes it.
	require.NoError(t, server.Registry().Register(1, proc.XDR(), proc.XDR(), func(uint64) {
		close(entered)
	}))

	ctx, err := server.CreateContextWithID(1)
	require.NoError(t, err)

	client, err := Init("tcp://"+t.Name()+"-client", false)
	require.NoError(t, err)
	require.NoError(t, client.Registry().Register(1, proc.XDR(), proc.XDR(), func(uint64) {}))
	clientCtx, err := client.CreateContextWithID(1)
	require.NoError(t, err)

	addr, err := client.Lookup(server.Name())
	require.NoError(t, err)

	h := client.NewOriginHandle(addr, 1)
	_, err = clientCtx.Engine().SetStruct(h, handle.Input, &addReq{A: 1, B: 2})
	require.NoError(t, err)

	// No response is ever sent back, so this Forward's own completion
	// callback never fires; only check that dispatch reached the server.
	require.NoError(t, clientCtx.Controller().Forward(h, func(error) {}))

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("server handler never ran")
	}

	assert.Error(t, ctx.Destroy())
}

func TestEndToEndAddRPC(t *testing.T) {
	server, err := Init("tcp://"+t.Name()+"-server", true)
	require.NoError(t, err)

	serverCtx, err := server.CreateContextWithID(1)
	require.NoError(t, err)

	require.NoError(t, server.Registry().Register(1, proc.XDR(), proc.XDR(), func(hid uint64) {
		h, ok := serverCtx.Controller().Lookup(hid)
		if !ok {
			t.Errorf("no such handle %d", hid)
			return
		}
		in := &addReq{}
		if err := serverCtx.Engine().GetStruct(h, handle.Input, in); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		out := &addResp{Sum: in.A + in.B}
		if _, err := serverCtx.Engine().SetStruct(h, handle.Output, out); err != nil {
			t.Errorf("encode: %v", err)
			return
		}
		if err := serverCtx.Controller().Respond(h, h.RespondFn, func(error) {}); err != nil {
			t.Errorf("respond: %v", err)
		}
	}))

	client, err := Init("tcp://"+t.Name()+"-client", false)
	require.NoError(t, err)
	require.NoError(t, client.Registry().Register(1, proc.XDR(), proc.XDR(), func(uint64) {}))
	clientCtx, err := client.CreateContextWithID(1)
	require.NoError(t, err)

	addr, err := client.Lookup(server.Name())
	require.NoError(t, err)

	h := client.NewOriginHandle(addr, 1)
	_, err = clientCtx.Engine().SetStruct(h, handle.Input, &addReq{A: 3, B: 4})
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, clientCtx.Controller().Forward(h, func(err error) { done <- err }))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forward did not complete")
	}

	out := &addResp{}
	require.NoError(t, clientCtx.Engine().GetStruct(h, handle.Output, out))
	assert.Equal(t, int32(7), out.Sum)
}

func TestFreeingDecodeAndBaseRefsAllowsContextDestroy(t *testing.T) {
	server, err := Init("tcp://"+t.Name()+"-server", true)
	require.NoError(t, err)

	ctx, err := server.CreateContextWithID(1)
	require.NoError(t, err)

	freed := make(chan struct{})
	require.NoError(t, server.Registry().Register(1, proc.XDR(), proc.XDR(), func(hid uint64) {
		h, ok := ctx.Controller().Lookup(hid)
		if !ok {
			t.Errorf("no such handle %d", hid)
			return
		}
		in := &addReq{}
		if err := ctx.Engine().GetStruct(h, handle.Input, in); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		out := &addResp{Sum: in.A + in.B}
		if _, err := ctx.Engine().SetStruct(h, handle.Output, out); err != nil {
			t.Errorf("encode: %v", err)
			return
		}
		if err := ctx.Controller().Respond(h, h.RespondFn, func(error) {}); err != nil {
			t.Errorf("respond: %v", err)
		}

		// Balance GetStruct's decode ref, then drop HandleInbound's own
		// base ref — the second call is the one that actually releases h.
		require.NoError(t, ctx.Controller().FreeStruct(h, handle.Input, in))
		require.NoError(t, ctx.Controller().FreeStruct(h, handle.Input, nil))
		close(freed)
	}))

	client, err := Init("tcp://"+t.Name()+"-client", false)
	require.NoError(t, err)
	require.NoError(t, client.Registry().Register(1, proc.XDR(), proc.XDR(), func(uint64) {}))
	clientCtx, err := client.CreateContextWithID(1)
	require.NoError(t, err)

	addr, err := client.Lookup(server.Name())
	require.NoError(t, err)

	h := client.NewOriginHandle(addr, 1)
	_, err = clientCtx.Engine().SetStruct(h, handle.Input, &addReq{A: 1, B: 2})
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, clientCtx.Controller().Forward(h, func(err error) { done <- err }))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forward did not complete")
	}

	select {
	case <-freed:
	case <-time.After(time.Second):
		t.Fatal("server handler never freed the handle")
	}

	assert.Zero(t, ctx.Controller().LiveHandles())
	assert.NoError(t, ctx.Destroy())
}
