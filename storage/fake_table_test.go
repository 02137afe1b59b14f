package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type fakeRow struct {
	pk, rk string
	props  map[string]json.RawMessage
	etag   azcore.ETag
}

// fakeTable mimics the subset of Table Storage semantics the store relies on:
// ETag preconditions, merge updates, all-or-nothing transactions and simple
// string range filters on the keys.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]*fakeRow
	version int

	// beforeSubmit runs once per SubmitTransaction before preconditions are checked.
	beforeSubmit func()
	submits      int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]*fakeRow)}
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func (f *fakeTable) nextETag() azcore.ETag {
	f.version++
	return azcore.ETag(fmt.Sprintf("W/\"datetime'%d'\"", f.version))
}

func decodeProps(entity []byte) (string, string, map[string]json.RawMessage, error) {
	props := map[string]json.RawMessage{}
	if err := json.Unmarshal(entity, &props); err != nil {
		return "", "", nil, err
	}
	var keys entityKeys
	if err := json.Unmarshal(entity, &keys); err != nil {
		return "", "", nil, err
	}
	return keys.PartitionKey, keys.RowKey, props, nil
}

func (r *fakeRow) encode() []byte {
	out := make(map[string]json.RawMessage, len(r.props)+1)
	for k, v := range r.props {
		out[k] = v
	}
	etag, _ := json.Marshal(string(r.etag))
	out["odata.etag"] = etag
	data, _ := json.Marshal(out)
	return data
}

func respErr(code int, errorCode string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: errorCode}
}

type pendingWrite struct {
	mode    string
	pk, rk  string
	props   map[string]json.RawMessage
	ifMatch *azcore.ETag
}

func (f *fakeTable) check(w pendingWrite) error {
	cur, exists := f.rows[rowID(w.pk, w.rk)]
	switch w.mode {
	case "add":
		if exists {
			return respErr(409, "EntityAlreadyExists")
		}
	case "merge", "replace":
		if !exists {
			return respErr(404, "ResourceNotFound")
		}
		if w.ifMatch != nil && *w.ifMatch != azcore.ETagAny && *w.ifMatch != cur.etag {
			return respErr(412, "UpdateConditionNotSatisfied")
		}
	}
	return nil
}

func (f *fakeTable) apply(w pendingWrite) azcore.ETag {
	id := rowID(w.pk, w.rk)
	cur, exists := f.rows[id]
	if !exists || w.mode == "add" || w.mode == "replace" {
		cur = &fakeRow{pk: w.pk, rk: w.rk, props: map[string]json.RawMessage{}}
		f.rows[id] = cur
	}
	for k, v := range w.props {
		cur.props[k] = v
	}
	cur.etag = f.nextETag()
	return cur.etag
}

func (f *fakeTable) write(w pendingWrite) (azcore.ETag, error) {
	if err := f.check(w); err != nil {
		return "", err
	}
	return f.apply(w), nil
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(404, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{ETag: row.etag, Value: row.encode()}, nil
}

func (f *fakeTable) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	pk, rk, props, err := decodeProps(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	etag, err := f.write(pendingWrite{mode: "add", pk: pk, rk: rk, props: props})
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	return aztables.AddEntityResponse{ETag: etag}, nil
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	pk, rk, props, err := decodeProps(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	w := pendingWrite{mode: "replace", pk: pk, rk: rk, props: props}
	if opts != nil {
		w.ifMatch = opts.IfMatch
		if opts.UpdateMode == aztables.UpdateModeMerge {
			w.mode = "merge"
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	etag, err := f.write(w)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	return aztables.UpdateEntityResponse{ETag: etag}, nil
}

func (f *fakeTable) UpsertEntity(_ context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	pk, rk, props, err := decodeProps(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	mode := "replace"
	if opts != nil && opts.UpdateMode == aztables.UpdateModeMerge {
		mode = "merge"
	}
	if _, exists := f.rows[rowID(pk, rk)]; !exists {
		mode = "add"
	}
	etag := f.apply(pendingWrite{mode: mode, pk: pk, rk: rk, props: props})
	return aztables.UpsertEntityResponse{ETag: etag}, nil
}

func (f *fakeTable) SubmitTransaction(_ context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	f.submits++
	hook := f.beforeSubmit
	f.beforeSubmit = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	writes := make([]pendingWrite, 0, len(actions))
	partition := ""
	for _, a := range actions {
		pk, rk, props, err := decodeProps(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		if partition != "" && pk != partition {
			return aztables.TransactionResponse{}, respErr(400, "CommandsInBatchActOnDifferentPartitions")
		}
		partition = pk
		w := pendingWrite{pk: pk, rk: rk, props: props, ifMatch: a.IfMatch}
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			w.mode = "add"
		case aztables.TransactionTypeUpdateMerge:
			w.mode = "merge"
		case aztables.TransactionTypeUpdateReplace:
			w.mode = "replace"
		default:
			return aztables.TransactionResponse{}, fmt.Errorf("unsupported action %v", a.ActionType)
		}
		writes = append(writes, w)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range writes {
		if err := f.check(w); err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	for _, w := range writes {
		f.apply(w)
	}
	return aztables.TransactionResponse{}, nil
}

var clausePattern = regexp.MustCompile(`^(PartitionKey|RowKey) (eq|ge|gt|le|lt) '((?:[^']|'')*)'$`)

func matches(row *fakeRow, filter string) (bool, error) {
	if filter == "" {
		return true, nil
	}
	for _, clause := range strings.Split(filter, " and ") {
		m := clausePattern.FindStringSubmatch(clause)
		if m == nil {
			return false, fmt.Errorf("unsupported filter clause %q", clause)
		}
		field := row.pk
		if m[1] == "RowKey" {
			field = row.rk
		}
		want := strings.ReplaceAll(m[3], "''", "'")
		var ok bool
		switch m[2] {
		case "eq":
			ok = field == want
		case "ge":
			ok = field >= want
		case "gt":
			ok = field > want
		case "le":
			ok = field <= want
		case "lt":
			ok = field < want
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if opts != nil && opts.Filter != nil {
		filter = *opts.Filter
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			ids := make([]string, 0, len(f.rows))
			for id := range f.rows {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			var resp aztables.ListEntitiesResponse
			for _, id := range ids {
				row := f.rows[id]
				ok, err := matches(row, filter)
				if err != nil {
					return aztables.ListEntitiesResponse{}, err
				}
				if ok {
					resp.Entities = append(resp.Entities, row.encode())
				}
			}
			return resp, nil
		},
	})
}

// bump rewrites a row in place, changing its ETag as a concurrent writer would.
func (f *fakeTable) bump(pk, rk string, props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := make(map[string]json.RawMessage, len(props)+2)
	raw["PartitionKey"], _ = json.Marshal(pk)
	raw["RowKey"], _ = json.Marshal(rk)
	for k, v := range props {
		data, _ := json.Marshal(v)
		raw[k] = data
	}
	if _, exists := f.rows[rowID(pk, rk)]; !exists {
		f.apply(pendingWrite{mode: "add", pk: pk, rk: rk, props: raw})
		return
	}
	f.apply(pendingWrite{mode: "merge", pk: pk, rk: rk, props: raw})
}
