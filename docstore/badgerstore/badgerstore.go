// Package badgerstore is the embedded document-store backend on badger.
// Documents are stored as JSON values under "d/<index>/<id>" keys; sequence
// numbers come from a badger sequence and the primary term is bumped on
// every open, so a restart invalidates stale concurrency pairs the same way
// a promoted replica would.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"github.com/dgraph-io/badger/v4"

	"github.com/anyproto/anytype-object-store/docstore"
)

var log = logger.NewNamed("docstore.badger")

const (
	docKeyPrefix = "d/"
	seqKey       = "m/seq"
	termKey      = "m/primaryTerm"

	defaultPITKeepAlive = 5 * time.Minute
	pitSweepSeconds     = 30
	seqBandwidth        = 100
)

type Config struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

type configGetter interface {
	GetBadgerStore() Config
}

func New() Store {
	return &store{pits: map[string]*pointInTime{}}
}

type Store interface {
	docstore.Client
	app.ComponentRunnable
}

type store struct {
	conf Config
	db   *badger.DB
	seq  *badger.Sequence
	term int64

	mu   sync.Mutex
	pits map[string]*pointInTime

	ticker periodicsync.PeriodicSync
}

type pointInTime struct {
	txn      *badger.Txn
	indexes  []string
	deadline time.Time
}

type storedDoc struct {
	Source      map[string]any `json:"source"`
	SeqNo       int64          `json:"seqNo"`
	PrimaryTerm int64          `json:"primaryTerm"`
}

func (s *store) Name() (name string) {
	return docstore.CName
}

func (s *store) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configGetter).GetBadgerStore()
	s.ticker = periodicsync.NewPeriodicSync(pitSweepSeconds, 0, s.sweepExpiredPITs, log)
	return
}

func (s *store) Run(ctx context.Context) (err error) {
	var opts badger.Options
	if s.conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err = os.MkdirAll(s.conf.Path, 0o755); err != nil {
			return
		}
		opts = badger.DefaultOptions(s.conf.Path)
	}
	opts.Logger = badgerLogger{}
	if s.db, err = badger.Open(opts); err != nil {
		return
	}
	if s.seq, err = s.db.GetSequence([]byte(seqKey), seqBandwidth); err != nil {
		return
	}
	if err = s.bumpPrimaryTerm(); err != nil {
		return
	}
	s.ticker.Run()
	return
}

func (s *store) bumpPrimaryTerm() error {
	return s.db.Update(func(txn *badger.Txn) error {
		var term int64
		item, err := txn.Get([]byte(termKey))
		switch err {
		case nil:
			if err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &term)
			}); err != nil {
				return err
			}
		case badger.ErrKeyNotFound:
		default:
			return err
		}
		term++
		s.term = term
		raw, _ := json.Marshal(term)
		return txn.Set([]byte(termKey), raw)
	})
}

func (s *store) Close(ctx context.Context) (err error) {
	s.ticker.Close()
	s.mu.Lock()
	for id, pit := range s.pits {
		pit.txn.Discard()
		delete(s.pits, id)
	}
	s.mu.Unlock()
	if s.seq != nil {
		_ = s.seq.Release()
	}
	if s.db != nil {
		err = s.db.Close()
	}
	return
}

func docKey(index, id string) []byte {
	return []byte(docKeyPrefix + index + "/" + id)
}

func (s *store) nextSeq() (int64, error) {
	n, err := s.seq.Next()
	return int64(n), err
}

func readDoc(txn *badger.Txn, index, id string) (*storedDoc, error) {
	item, err := txn.Get(docKey(index, id))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc storedDoc
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, err
	}
	return &doc, nil
}

func writeDoc(txn *badger.Txn, index, id string, doc *storedDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return txn.Set(docKey(index, id), raw)
}

// checkPrecondition returns 0 when the write may proceed, else the status
// to report.
func checkPrecondition(existing *storedDoc, ifSeqNo, ifPrimaryTerm *int64) int {
	if ifSeqNo == nil && ifPrimaryTerm == nil {
		return 0
	}
	if existing == nil {
		return http.StatusNotFound
	}
	if ifSeqNo != nil && existing.SeqNo != *ifSeqNo {
		return http.StatusConflict
	}
	if ifPrimaryTerm != nil && existing.PrimaryTerm != *ifPrimaryTerm {
		return http.StatusConflict
	}
	return 0
}

func (s *store) Get(ctx context.Context, req docstore.GetRequest) (*docstore.Doc, error) {
	var res docstore.Doc
	err := s.db.View(func(txn *badger.Txn) error {
		doc, err := readDoc(txn, req.Index, req.ID)
		if err != nil {
			return err
		}
		res = s.toDoc(req.Index, req.ID, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *store) toDoc(index, id string, doc *storedDoc) docstore.Doc {
	if doc == nil {
		return docstore.NotFoundDoc(index, id)
	}
	return docstore.Doc{
		Index:       index,
		ID:          id,
		Source:      doc.Source,
		SeqNo:       doc.SeqNo,
		PrimaryTerm: doc.PrimaryTerm,
		Found:       true,
		Status:      http.StatusOK,
	}
}

func (s *store) MGet(ctx context.Context, req docstore.MGetRequest) ([]docstore.Doc, error) {
	docs := make([]docstore.Doc, len(req.Items))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, item := range req.Items {
			doc, err := readDoc(txn, item.Index, item.ID)
			if err != nil {
				return err
			}
			docs[i] = s.toDoc(item.Index, item.ID, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *store) Index(ctx context.Context, req docstore.IndexRequest) (*docstore.WriteResult, error) {
	var res docstore.WriteResult
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		res, err = s.applyIndex(txn, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *store) applyIndex(txn *badger.Txn, req docstore.IndexRequest) (docstore.WriteResult, error) {
	existing, err := readDoc(txn, req.Index, req.ID)
	if err != nil {
		return docstore.WriteResult{}, err
	}
	if st := checkPrecondition(existing, req.IfSeqNo, req.IfPrimaryTerm); st != 0 {
		return failedWrite(req.ID, st), nil
	}
	if req.OpType == docstore.OpCreate && existing != nil {
		return failedWrite(req.ID, http.StatusConflict), nil
	}
	seqNo, err := s.nextSeq()
	if err != nil {
		return docstore.WriteResult{}, err
	}
	doc := &storedDoc{Source: req.Source, SeqNo: seqNo, PrimaryTerm: s.term}
	if err = writeDoc(txn, req.Index, req.ID, doc); err != nil {
		return docstore.WriteResult{}, err
	}
	res := docstore.WriteResult{ID: req.ID, SeqNo: seqNo, PrimaryTerm: s.term}
	if existing == nil {
		res.Status, res.Result = http.StatusCreated, "created"
	} else {
		res.Status, res.Result = http.StatusOK, "updated"
	}
	return res, nil
}

func failedWrite(id string, status int) docstore.WriteResult {
	cause := &docstore.ErrorCause{Type: "version_conflict", Reason: "concurrency precondition failed"}
	switch status {
	case http.StatusNotFound:
		cause = &docstore.ErrorCause{Type: "document_missing", Reason: "document not found"}
	case http.StatusConflict:
	default:
		cause = &docstore.ErrorCause{Type: "unexpected", Reason: fmt.Sprintf("status %d", status)}
	}
	return docstore.WriteResult{ID: id, Status: status, Error: cause}
}

func (s *store) Update(ctx context.Context, req docstore.UpdateRequest) (*docstore.UpdateResult, error) {
	var res docstore.UpdateResult
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		res, err = s.applyUpdate(txn, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *store) applyUpdate(txn *badger.Txn, req docstore.UpdateRequest) (docstore.UpdateResult, error) {
	existing, err := readDoc(txn, req.Index, req.ID)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	// a precondition always wins over the upsert path: a missing document
	// cannot match any concurrency pair
	if st := checkPrecondition(existing, req.IfSeqNo, req.IfPrimaryTerm); st != 0 {
		return docstore.UpdateResult{WriteResult: failedWrite(req.ID, st)}, nil
	}
	if existing == nil {
		if req.Upsert == nil {
			return docstore.UpdateResult{WriteResult: failedWrite(req.ID, http.StatusNotFound)}, nil
		}
		seqNo, err := s.nextSeq()
		if err != nil {
			return docstore.UpdateResult{}, err
		}
		doc := &storedDoc{Source: req.Upsert, SeqNo: seqNo, PrimaryTerm: s.term}
		if err = writeDoc(txn, req.Index, req.ID, doc); err != nil {
			return docstore.UpdateResult{}, err
		}
		res := docstore.UpdateResult{WriteResult: docstore.WriteResult{
			ID: req.ID, Status: http.StatusCreated, Result: "created", SeqNo: seqNo, PrimaryTerm: s.term,
		}}
		if req.FetchSource {
			res.Source = doc.Source
		}
		return res, nil
	}
	if deleted := docstore.ApplyMutations(existing.Source, req.Mutations); deleted {
		if err = txn.Delete(docKey(req.Index, req.ID)); err != nil {
			return docstore.UpdateResult{}, err
		}
		return docstore.UpdateResult{WriteResult: docstore.WriteResult{
			ID: req.ID, Status: http.StatusOK, Result: "deleted",
		}}, nil
	}
	seqNo, err := s.nextSeq()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	existing.SeqNo, existing.PrimaryTerm = seqNo, s.term
	if err = writeDoc(txn, req.Index, req.ID, existing); err != nil {
		return docstore.UpdateResult{}, err
	}
	res := docstore.UpdateResult{WriteResult: docstore.WriteResult{
		ID: req.ID, Status: http.StatusOK, Result: "updated", SeqNo: seqNo, PrimaryTerm: s.term,
	}}
	if req.FetchSource {
		res.Source = existing.Source
	}
	return res, nil
}

func (s *store) Delete(ctx context.Context, req docstore.DeleteRequest) (*docstore.WriteResult, error) {
	var res docstore.WriteResult
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := readDoc(txn, req.Index, req.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			res = failedWrite(req.ID, http.StatusNotFound)
			return nil
		}
		if st := checkPrecondition(existing, req.IfSeqNo, req.IfPrimaryTerm); st != 0 {
			res = failedWrite(req.ID, st)
			return nil
		}
		if err = txn.Delete(docKey(req.Index, req.ID)); err != nil {
			return err
		}
		res = docstore.WriteResult{ID: req.ID, Status: http.StatusOK, Result: "deleted"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *store) Bulk(ctx context.Context, req docstore.BulkRequest) (*docstore.BulkResult, error) {
	items := make([]docstore.WriteResult, len(req.Ops))
	err := s.db.Update(func(txn *badger.Txn) error {
		for i, op := range req.Ops {
			switch op.OpType {
			case docstore.OpIndex, docstore.OpCreate:
				res, err := s.applyIndex(txn, docstore.IndexRequest{
					Index: op.Index, ID: op.ID, Source: op.Source, OpType: op.OpType,
					IfSeqNo: op.IfSeqNo, IfPrimaryTerm: op.IfPrimaryTerm,
				})
				if err != nil {
					return err
				}
				items[i] = res
			case docstore.OpUpdate:
				res, err := s.applyUpdate(txn, docstore.UpdateRequest{
					Index: op.Index, ID: op.ID, Mutations: op.Mutations, Upsert: op.Upsert,
					IfSeqNo: op.IfSeqNo, IfPrimaryTerm: op.IfPrimaryTerm,
				})
				if err != nil {
					return err
				}
				items[i] = res.WriteResult
			case docstore.OpDelete:
				existing, err := readDoc(txn, op.Index, op.ID)
				if err != nil {
					return err
				}
				if existing == nil {
					items[i] = failedWrite(op.ID, http.StatusNotFound)
					continue
				}
				if st := checkPrecondition(existing, op.IfSeqNo, op.IfPrimaryTerm); st != 0 {
					items[i] = failedWrite(op.ID, st)
					continue
				}
				if err = txn.Delete(docKey(op.Index, op.ID)); err != nil {
					return err
				}
				items[i] = docstore.WriteResult{ID: op.ID, Status: http.StatusOK, Result: "deleted"}
			default:
				items[i] = failedWrite(op.ID, http.StatusBadRequest)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &docstore.BulkResult{Items: items}, nil
}

func (s *store) UpdateByQuery(ctx context.Context, req docstore.UpdateByQueryRequest) (*docstore.UpdateByQueryResult, error) {
	var res docstore.UpdateByQueryResult
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, index := range req.Indexes {
			ids, err := matchingIDs(txn, index, req.Query)
			if err != nil {
				return err
			}
			for _, id := range ids {
				doc, err := readDoc(txn, index, id)
				if err != nil {
					return err
				}
				if doc == nil {
					continue
				}
				if docstore.ApplyMutations(doc.Source, req.Mutations) {
					if err = txn.Delete(docKey(index, id)); err != nil {
						return err
					}
					res.Deleted++
					continue
				}
				if doc.SeqNo, err = s.nextSeq(); err != nil {
					return err
				}
				doc.PrimaryTerm = s.term
				if err = writeDoc(txn, index, id, doc); err != nil {
					return err
				}
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// badgerLogger adapts the named zap logger to badger's logging interface.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...any)  {}
func (badgerLogger) Debugf(format string, args ...any) {}
