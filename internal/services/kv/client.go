package kv

import (
	"context"
	"fmt"

	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/protocol"
)

// StoreHandle addresses one opened store, either as a domain object on the
// parent session or as its own session.
type StoreHandle struct {
	parent  *hipc.Client
	object  uint32
	session *hipc.Client
}

// Open asks the kv:u root on c for a new store.
func Open(ctx context.Context, c *hipc.Client) (*StoreHandle, error) {
	r, err := c.Invoke(ctx, CmdOpenStore, nil)
	if err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(r.Objects) == 1 {
		return &StoreHandle{parent: c, object: r.Objects[0]}, nil
	}
	if s, ok := r.Session(0); ok {
		return &StoreHandle{session: s}, nil
	}
	return nil, fmt.Errorf("kv: OpenStore reply carried no store")
}

// ObjectID is the store's domain id, or 0 when it has its own session.
func (h *StoreHandle) ObjectID() uint32 {
	return h.object
}

func (h *StoreHandle) invoke(ctx context.Context, cmd uint32, args []byte) (hipc.Reply, error) {
	var (
		r   hipc.Reply
		err error
	)
	if h.session != nil {
		r, err = h.session.Invoke(ctx, cmd, args)
	} else {
		r, err = h.parent.InvokeObject(ctx, h.object, cmd, args)
	}
	if err != nil {
		return hipc.Reply{}, err
	}
	return r, r.Err()
}

func keyArgs(key string) (*protocol.Writer, error) {
	w := protocol.NewWriter()
	if err := w.Name(key); err != nil {
		return nil, err
	}
	return w, nil
}

func (h *StoreHandle) Set(ctx context.Context, key string, value []byte) error {
	w, err := keyArgs(key)
	if err != nil {
		return err
	}
	_, err = h.invoke(ctx, CmdSet, w.Blob(value).Bytes())
	return err
}

func (h *StoreHandle) Get(ctx context.Context, key string) ([]byte, error) {
	w, err := keyArgs(key)
	if err != nil {
		return nil, err
	}
	r, err := h.invoke(ctx, CmdGet, w.Bytes())
	if err != nil {
		return nil, err
	}
	return r.Reader().Blob()
}

func (h *StoreHandle) Delete(ctx context.Context, key string) error {
	w, err := keyArgs(key)
	if err != nil {
		return err
	}
	_, err = h.invoke(ctx, CmdDelete, w.Bytes())
	return err
}

func (h *StoreHandle) Count(ctx context.Context) (int, error) {
	r, err := h.invoke(ctx, CmdCount, nil)
	if err != nil {
		return 0, err
	}
	n, err := r.Reader().U32()
	return int(n), err
}

func (h *StoreHandle) List(ctx context.Context, prefix string) ([]string, error) {
	var args []byte
	if prefix != "" {
		w, err := keyArgs(prefix)
		if err != nil {
			return nil, err
		}
		args = w.Bytes()
	}
	r, err := h.invoke(ctx, CmdList, args)
	if err != nil {
		return nil, err
	}
	rd := r.Reader()
	n, err := rd.U32()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := rd.Name()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close releases the store on the server.
func (h *StoreHandle) Close(ctx context.Context) error {
	if h.session != nil {
		return h.session.Close(ctx)
	}
	return h.parent.CloseObject(ctx, h.object)
}
