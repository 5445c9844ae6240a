package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

const maxTxRetryAttempts = 5

// EtcdStore keeps lifecycle records in etcd and guards transitions with
// revision-compared transactions
type EtcdStore struct {
	client *clientv3.Client
	prefix string
	owned  bool
}

// NewEtcdStore connects to etcd and waits until it answers
func NewEtcdStore(ctx context.Context, endpoints []string, prefix string) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	logger := log.WithComponent("state")
	err = retry.Do(
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			_, err := client.Get(reqCtx, prefix, clientv3.WithCountOnly())
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("etcd not reachable yet")
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach etcd at %v: %w", endpoints, err)
	}

	return &EtcdStore{client: client, prefix: prefix, owned: true}, nil
}

// NewEtcdStoreFromClient wraps an existing client; Close leaves it open
func NewEtcdStoreFromClient(client *clientv3.Client, prefix string) *EtcdStore {
	return &EtcdStore{client: client, prefix: prefix}
}

func (s *EtcdStore) key(w types.Workload) string {
	return path.Join(s.prefix, "lifecycle", w.Cluster, w.Service)
}

// Get returns the workload's lifecycle record
func (s *EtcdStore) Get(ctx context.Context, w types.Workload) (*types.LifecycleRecord, error) {
	resp, err := s.client.Get(ctx, s.key(w))
	if err != nil {
		return nil, fmt.Errorf("failed to read lifecycle of %s: %w", w, err)
	}
	rec, _, err := decodeKVs(w, resp.Kvs)
	return rec, err
}

// Transition compares the key's mod revision against the one the decision
// was based on, re-evaluating after each lost race
func (s *EtcdStore) Transition(ctx context.Context, w types.Workload, from []types.LifecycleState, to types.LifecycleState, actor string) (*types.LifecycleRecord, error) {
	key := s.key(w)

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read lifecycle of %s: %w", w, err)
	}
	current, modRev, err := decodeKVs(w, resp.Kvs)
	if err != nil {
		return nil, err
	}

	for range maxTxRetryAttempts {
		if !containsState(from, current.State) {
			return nil, fmt.Errorf("failed to move %s to %s: %w", w, to, &ConflictError{Current: current, From: from, To: to})
		}

		next := &types.LifecycleRecord{
			Workload:  w,
			State:     to,
			Revision:  current.Revision + 1,
			UpdatedAt: time.Now().UTC(),
			UpdatedBy: actor,
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}

		cmp := clientv3.Compare(clientv3.ModRevision(key), "=", modRev)
		if modRev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		}

		txResp, err := s.client.Txn(ctx).If(cmp).Then(
			clientv3.OpPut(key, string(data)),
		).Else(
			clientv3.OpGet(key),
		).Commit()
		if err != nil {
			return nil, fmt.Errorf("failed to move %s to %s: %w", w, to, err)
		}
		if txResp.Succeeded {
			return next, nil
		}

		var kvs []*mvccpb.KeyValue
		if len(txResp.Responses) > 0 {
			kvs = txResp.Responses[0].GetResponseRange().GetKvs()
		}
		current, modRev, err = decodeKVs(w, kvs)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to move %s to %s: max attempts count exceeded", w, to)
}

// Close releases the client if the store created it
func (s *EtcdStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func decodeKVs(w types.Workload, kvs []*mvccpb.KeyValue) (*types.LifecycleRecord, int64, error) {
	if len(kvs) == 0 {
		return initialRecord(w), 0, nil
	}
	var rec types.LifecycleRecord
	if err := json.Unmarshal(kvs[0].Value, &rec); err != nil {
		return nil, 0, fmt.Errorf("failed to decode lifecycle record: %w", err)
	}
	return &rec, kvs[0].ModRevision, nil
}
