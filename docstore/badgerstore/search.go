package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/docstore"
)

const defaultSearchSize = 10

func (s *store) Search(ctx context.Context, req docstore.SearchRequest) (*docstore.SearchResult, error) {
	txn, indexes, err := s.searchTxn(req)
	if err != nil {
		return nil, err
	}
	if req.PITID == "" {
		defer txn.Discard()
	}

	var hits []docstore.Doc
	for _, index := range indexes {
		indexHits, err := collectHits(txn, index, req.Query)
		if err != nil {
			return nil, err
		}
		hits = append(hits, indexHits...)
	}
	res := &docstore.SearchResult{
		Total: int64(len(hits)),
		PITID: req.PITID,
	}
	if len(req.Aggregations) > 0 {
		res.Aggregations = computeAggs(hits, req.Aggregations)
	}

	sorts := append(append([]docstore.SortField{}, req.Sort...), docstore.SortField{Field: "_id"})
	for i := range hits {
		hits[i].Sort = sortValues(&hits[i], sorts)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return docstore.CompareSortValues(hits[i].Sort, hits[j].Sort, sorts) < 0
	})

	if len(req.SearchAfter) > 0 {
		if len(req.SearchAfter) != len(sorts) {
			return nil, fmt.Errorf("badgerstore: search_after length %d does not match sort length %d", len(req.SearchAfter), len(sorts))
		}
		cut := sort.Search(len(hits), func(i int) bool {
			return docstore.CompareSortValues(hits[i].Sort, req.SearchAfter, sorts) > 0
		})
		hits = hits[cut:]
	} else if req.From > 0 {
		if req.From >= len(hits) {
			hits = nil
		} else {
			hits = hits[req.From:]
		}
	}
	size := req.Size
	if size <= 0 {
		size = defaultSearchSize
	}
	if len(hits) > size {
		hits = hits[:size]
	}
	res.Hits = hits
	return res, nil
}

// searchTxn picks the snapshot to search in: the one held by the named
// point in time, or a fresh read transaction.
func (s *store) searchTxn(req docstore.SearchRequest) (*badger.Txn, []string, error) {
	if req.PITID == "" {
		return s.db.NewTransaction(false), req.Indexes, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pit, ok := s.pits[req.PITID]
	if !ok || time.Now().After(pit.deadline) {
		return nil, nil, docstore.ErrPITNotFound
	}
	return pit.txn, pit.indexes, nil
}

func collectHits(txn *badger.Txn, index string, query docstore.Query) (hits []docstore.Doc, err error) {
	prefix := []byte(docKeyPrefix + index + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		id := strings.TrimPrefix(string(item.Key()), string(prefix))
		var doc storedDoc
		if err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return nil, err
		}
		matched, score := evalQuery(doc.Source, query)
		if !matched {
			continue
		}
		hits = append(hits, docstore.Doc{
			Index:       index,
			ID:          id,
			Source:      doc.Source,
			SeqNo:       doc.SeqNo,
			PrimaryTerm: doc.PrimaryTerm,
			Found:       true,
			Status:      http.StatusOK,
			Score:       score,
		})
	}
	return hits, nil
}

func matchingIDs(txn *badger.Txn, index string, query docstore.Query) (ids []string, err error) {
	hits, err := collectHits(txn, index, query)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func sortValues(doc *docstore.Doc, sorts []docstore.SortField) []any {
	values := make([]any, len(sorts))
	for i, sf := range sorts {
		if sf.Field == "_id" {
			values[i] = doc.ID
			continue
		}
		values[i] = docstore.GetPath(doc.Source, sf.Field)
	}
	return values
}

func (s *store) OpenPointInTime(ctx context.Context, req docstore.OpenPITRequest) (pitID string, err error) {
	if len(req.Indexes) == 0 {
		return "", fmt.Errorf("badgerstore: point in time needs at least one index")
	}
	keepAlive := req.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultPITKeepAlive
	}
	pitID = uuid.New().String()
	s.mu.Lock()
	s.pits[pitID] = &pointInTime{
		txn:      s.db.NewTransaction(false),
		indexes:  req.Indexes,
		deadline: time.Now().Add(keepAlive),
	}
	s.mu.Unlock()
	return pitID, nil
}

func (s *store) ClosePointInTime(ctx context.Context, pitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pit, ok := s.pits[pitID]
	if !ok {
		return docstore.ErrPITNotFound
	}
	pit.txn.Discard()
	delete(s.pits, pitID)
	return nil
}

// sweepExpiredPITs is the keep-alive backstop against leaked snapshots.
func (s *store) sweepExpiredPITs(ctx context.Context) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pit := range s.pits {
		if now.After(pit.deadline) {
			pit.txn.Discard()
			delete(s.pits, id)
			log.Debug("expired point in time", zap.String("pitId", id))
		}
	}
	return nil
}
