// Package mongostore is the production document-store backend on mongo.
// Every logical index maps onto a collection; documents carry the source
// map plus a (seqNo, primaryTerm) pair maintained by this package: sequence
// numbers are allocated from a counters document, the primary term is
// bumped once per Run so a restart invalidates stale preconditions.
//
// Mutations compile to native update operators where mongo has them; the
// conditional-delete namespace mutation and the query sweeps fall back to
// read-modify-write guarded by the concurrency pair.
package mongostore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/anyproto/anytype-object-store/db"
	"github.com/anyproto/anytype-object-store/docstore"
)

var log = logger.NewNamed("docstore.mongo")

const (
	metaCollection = "docstore_meta"

	defaultPITKeepAlive = 5 * time.Minute
	pitSweepSeconds     = 30
)

func New() Store {
	return &store{pits: map[string]*pointInTime{}}
}

type Store interface {
	docstore.Client
	app.ComponentRunnable
}

type store struct {
	db   db.Database
	term int64

	mu   sync.Mutex
	pits map[string]*pointInTime

	ticker periodicsync.PeriodicSync
}

type pointInTime struct {
	indexes  []string
	deadline time.Time
}

type storedDoc struct {
	ID          string         `bson:"_id"`
	Source      map[string]any `bson:"source"`
	SeqNo       int64          `bson:"seqNo"`
	PrimaryTerm int64          `bson:"primaryTerm"`
}

func (s *store) Name() (name string) {
	return docstore.CName
}

func (s *store) Init(a *app.App) (err error) {
	s.db = a.MustComponent(db.CName).(db.Database)
	s.ticker = periodicsync.NewPeriodicSync(pitSweepSeconds, 0, s.sweepExpiredPITs, log)
	return
}

func (s *store) Run(ctx context.Context) (err error) {
	res := s.meta().FindOneAndUpdate(ctx,
		bson.M{"_id": "primaryTerm"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Value int64 `bson:"value"`
	}
	if err = res.Decode(&doc); err != nil {
		return
	}
	s.term = doc.Value
	s.ticker.Run()
	return
}

func (s *store) Close(ctx context.Context) (err error) {
	s.ticker.Close()
	return
}

func (s *store) meta() *mongo.Collection {
	return s.db.Db().Collection(metaCollection)
}

func (s *store) coll(index string) *mongo.Collection {
	return s.db.Db().Collection(index)
}

// allocSeq reserves n consecutive sequence numbers and returns the first.
func (s *store) allocSeq(ctx context.Context, n int64) (first int64, err error) {
	res := s.meta().FindOneAndUpdate(ctx,
		bson.M{"_id": "seq"},
		bson.M{"$inc": bson.M{"value": n}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Value int64 `bson:"value"`
	}
	if err = res.Decode(&doc); err != nil {
		return
	}
	return doc.Value - n + 1, nil
}

func (s *store) Get(ctx context.Context, req docstore.GetRequest) (*docstore.Doc, error) {
	var doc storedDoc
	err := s.coll(req.Index).FindOne(ctx, bson.M{"_id": req.ID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		res := docstore.NotFoundDoc(req.Index, req.ID)
		return &res, nil
	}
	if err != nil {
		return nil, err
	}
	res := s.toDoc(req.Index, &doc)
	return &res, nil
}

func (s *store) toDoc(index string, doc *storedDoc) docstore.Doc {
	return docstore.Doc{
		Index:       index,
		ID:          doc.ID,
		Source:      normalizeSource(doc.Source),
		SeqNo:       doc.SeqNo,
		PrimaryTerm: doc.PrimaryTerm,
		Found:       true,
		Status:      http.StatusOK,
	}
}

func (s *store) MGet(ctx context.Context, req docstore.MGetRequest) ([]docstore.Doc, error) {
	byIndex := map[string][]string{}
	for _, item := range req.Items {
		byIndex[item.Index] = append(byIndex[item.Index], item.ID)
	}
	found := map[docstore.MGetItem]storedDoc{}
	for index, ids := range byIndex {
		cur, err := s.coll(index).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, err
		}
		for cur.Next(ctx) {
			var doc storedDoc
			if err = cur.Decode(&doc); err != nil {
				_ = cur.Close(ctx)
				return nil, err
			}
			found[docstore.MGetItem{Index: index, ID: doc.ID}] = doc
		}
		if err = cur.Close(ctx); err != nil {
			return nil, err
		}
	}
	docs := make([]docstore.Doc, len(req.Items))
	for i, item := range req.Items {
		if doc, ok := found[item]; ok {
			docs[i] = s.toDoc(item.Index, &doc)
		} else {
			docs[i] = docstore.NotFoundDoc(item.Index, item.ID)
		}
	}
	return docs, nil
}

func (s *store) Index(ctx context.Context, req docstore.IndexRequest) (*docstore.WriteResult, error) {
	seqNo, err := s.allocSeq(ctx, 1)
	if err != nil {
		return nil, err
	}
	doc := storedDoc{ID: req.ID, Source: req.Source, SeqNo: seqNo, PrimaryTerm: s.term}
	coll := s.coll(req.Index)

	if req.OpType == docstore.OpCreate {
		if _, err = coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				res := failedWrite(req.ID, http.StatusConflict)
				return &res, nil
			}
			return nil, err
		}
		return &docstore.WriteResult{
			ID: req.ID, Status: http.StatusCreated, Result: "created", SeqNo: seqNo, PrimaryTerm: s.term,
		}, nil
	}

	filter := bson.M{"_id": req.ID}
	withPrecondition := req.IfSeqNo != nil || req.IfPrimaryTerm != nil
	if req.IfSeqNo != nil {
		filter["seqNo"] = *req.IfSeqNo
	}
	if req.IfPrimaryTerm != nil {
		filter["primaryTerm"] = *req.IfPrimaryTerm
	}
	replRes, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(!withPrecondition))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// upsert raced with a concurrent insert
			res := failedWrite(req.ID, http.StatusConflict)
			return &res, nil
		}
		return nil, err
	}
	if replRes.MatchedCount == 0 && replRes.UpsertedCount == 0 {
		res := failedWrite(req.ID, s.missingWriteStatus(ctx, req.Index, req.ID))
		return &res, nil
	}
	result := "updated"
	status := http.StatusOK
	if replRes.UpsertedCount > 0 {
		result, status = "created", http.StatusCreated
	}
	return &docstore.WriteResult{
		ID: req.ID, Status: status, Result: result, SeqNo: seqNo, PrimaryTerm: s.term,
	}, nil
}

// missingWriteStatus tells a failed precondition (doc exists with another
// pair) apart from a missing document.
func (s *store) missingWriteStatus(ctx context.Context, index, id string) int {
	n, err := s.coll(index).CountDocuments(ctx, bson.M{"_id": id})
	if err == nil && n > 0 {
		return http.StatusConflict
	}
	return http.StatusNotFound
}

func failedWrite(id string, status int) docstore.WriteResult {
	cause := &docstore.ErrorCause{Type: "version_conflict", Reason: "concurrency precondition failed"}
	if status == http.StatusNotFound {
		cause = &docstore.ErrorCause{Type: "document_missing", Reason: "document not found"}
	}
	return docstore.WriteResult{ID: id, Status: status, Error: cause}
}

func (s *store) Update(ctx context.Context, req docstore.UpdateRequest) (*docstore.UpdateResult, error) {
	if !nativelyUpdatable(req.Mutations) {
		return s.updateReadModifyWrite(ctx, req)
	}
	seqNo, err := s.allocSeq(ctx, 1)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": req.ID}
	if req.IfSeqNo != nil {
		filter["seqNo"] = *req.IfSeqNo
	}
	if req.IfPrimaryTerm != nil {
		filter["primaryTerm"] = *req.IfPrimaryTerm
	}
	update := compileMutations(req.Mutations, seqNo, s.term)

	res := s.coll(req.Index).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	var doc storedDoc
	err = res.Decode(&doc)
	if err == mongo.ErrNoDocuments {
		if req.Upsert != nil && req.IfSeqNo == nil && req.IfPrimaryTerm == nil {
			return s.upsertSeed(ctx, req, seqNo)
		}
		return &docstore.UpdateResult{
			WriteResult: failedWrite(req.ID, s.missingWriteStatus(ctx, req.Index, req.ID)),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	out := &docstore.UpdateResult{WriteResult: docstore.WriteResult{
		ID: req.ID, Status: http.StatusOK, Result: "updated", SeqNo: seqNo, PrimaryTerm: s.term,
	}}
	if req.FetchSource {
		out.Source = normalizeSource(doc.Source)
	}
	return out, nil
}

func (s *store) upsertSeed(ctx context.Context, req docstore.UpdateRequest, seqNo int64) (*docstore.UpdateResult, error) {
	doc := storedDoc{ID: req.ID, Source: req.Upsert, SeqNo: seqNo, PrimaryTerm: s.term}
	if _, err := s.coll(req.Index).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the race to a concurrent writer; report it as such
			return &docstore.UpdateResult{WriteResult: failedWrite(req.ID, http.StatusConflict)}, nil
		}
		return nil, err
	}
	out := &docstore.UpdateResult{WriteResult: docstore.WriteResult{
		ID: req.ID, Status: http.StatusCreated, Result: "created", SeqNo: seqNo, PrimaryTerm: s.term,
	}}
	if req.FetchSource {
		out.Source = req.Upsert
	}
	return out, nil
}

const rmwAttempts = 3

// updateReadModifyWrite emulates mutations mongo update operators cannot
// express, retrying on concurrent modification.
func (s *store) updateReadModifyWrite(ctx context.Context, req docstore.UpdateRequest) (*docstore.UpdateResult, error) {
	for attempt := 0; attempt < rmwAttempts; attempt++ {
		cur, err := s.Get(ctx, docstore.GetRequest{Index: req.Index, ID: req.ID})
		if err != nil {
			return nil, err
		}
		if !cur.Found {
			if req.Upsert != nil {
				seqNo, err := s.allocSeq(ctx, 1)
				if err != nil {
					return nil, err
				}
				res, err := s.upsertSeed(ctx, req, seqNo)
				if err != nil {
					return nil, err
				}
				if res.Status != http.StatusConflict {
					return res, nil
				}
				continue
			}
			return &docstore.UpdateResult{WriteResult: failedWrite(req.ID, http.StatusNotFound)}, nil
		}
		if st := preconditionStatus(cur, req.IfSeqNo, req.IfPrimaryTerm); st != 0 {
			return &docstore.UpdateResult{WriteResult: failedWrite(req.ID, st)}, nil
		}
		source := cur.Source
		deleted := docstore.ApplyMutations(source, req.Mutations)
		seqNo, err := s.allocSeq(ctx, 1)
		if err != nil {
			return nil, err
		}
		filter := bson.M{"_id": req.ID, "seqNo": cur.SeqNo, "primaryTerm": cur.PrimaryTerm}
		if deleted {
			delRes, err := s.coll(req.Index).DeleteOne(ctx, filter)
			if err != nil {
				return nil, err
			}
			if delRes.DeletedCount == 0 {
				continue
			}
			return &docstore.UpdateResult{WriteResult: docstore.WriteResult{
				ID: req.ID, Status: http.StatusOK, Result: "deleted",
			}}, nil
		}
		doc := storedDoc{ID: req.ID, Source: source, SeqNo: seqNo, PrimaryTerm: s.term}
		replRes, err := s.coll(req.Index).ReplaceOne(ctx, filter, doc)
		if err != nil {
			return nil, err
		}
		if replRes.MatchedCount == 0 {
			continue
		}
		out := &docstore.UpdateResult{WriteResult: docstore.WriteResult{
			ID: req.ID, Status: http.StatusOK, Result: "updated", SeqNo: seqNo, PrimaryTerm: s.term,
		}}
		if req.FetchSource {
			out.Source = source
		}
		return out, nil
	}
	return &docstore.UpdateResult{WriteResult: failedWrite(req.ID, http.StatusConflict)}, nil
}

func preconditionStatus(doc *docstore.Doc, ifSeqNo, ifPrimaryTerm *int64) int {
	if ifSeqNo != nil && doc.SeqNo != *ifSeqNo {
		return http.StatusConflict
	}
	if ifPrimaryTerm != nil && doc.PrimaryTerm != *ifPrimaryTerm {
		return http.StatusConflict
	}
	return 0
}

func (s *store) Delete(ctx context.Context, req docstore.DeleteRequest) (*docstore.WriteResult, error) {
	filter := bson.M{"_id": req.ID}
	if req.IfSeqNo != nil {
		filter["seqNo"] = *req.IfSeqNo
	}
	if req.IfPrimaryTerm != nil {
		filter["primaryTerm"] = *req.IfPrimaryTerm
	}
	res, err := s.coll(req.Index).DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if res.DeletedCount == 0 {
		out := failedWrite(req.ID, s.missingWriteStatus(ctx, req.Index, req.ID))
		return &out, nil
	}
	return &docstore.WriteResult{ID: req.ID, Status: http.StatusOK, Result: "deleted"}, nil
}

// Bulk executes ops sequentially: mongo's BulkWrite cannot report per-op
// match counts for conditional updates, and the contract here needs exact
// per-slot statuses.
func (s *store) Bulk(ctx context.Context, req docstore.BulkRequest) (*docstore.BulkResult, error) {
	items := make([]docstore.WriteResult, len(req.Ops))
	for i, op := range req.Ops {
		switch op.OpType {
		case docstore.OpIndex, docstore.OpCreate:
			res, err := s.Index(ctx, docstore.IndexRequest{
				Index: op.Index, ID: op.ID, Source: op.Source, OpType: op.OpType,
				IfSeqNo: op.IfSeqNo, IfPrimaryTerm: op.IfPrimaryTerm,
			})
			if err != nil {
				return nil, err
			}
			items[i] = *res
		case docstore.OpUpdate:
			res, err := s.Update(ctx, docstore.UpdateRequest{
				Index: op.Index, ID: op.ID, Mutations: op.Mutations, Upsert: op.Upsert,
				IfSeqNo: op.IfSeqNo, IfPrimaryTerm: op.IfPrimaryTerm,
			})
			if err != nil {
				return nil, err
			}
			items[i] = res.WriteResult
		case docstore.OpDelete:
			res, err := s.Delete(ctx, docstore.DeleteRequest{
				Index: op.Index, ID: op.ID, IfSeqNo: op.IfSeqNo, IfPrimaryTerm: op.IfPrimaryTerm,
			})
			if err != nil {
				return nil, err
			}
			items[i] = *res
		default:
			items[i] = failedWrite(op.ID, http.StatusBadRequest)
		}
	}
	return &docstore.BulkResult{Items: items}, nil
}

func (s *store) UpdateByQuery(ctx context.Context, req docstore.UpdateByQueryRequest) (*docstore.UpdateByQueryResult, error) {
	out := &docstore.UpdateByQueryResult{}
	filter := compileQuery(req.Query)
	for _, index := range req.Indexes {
		cur, err := s.coll(index).Find(ctx, filter)
		if err != nil {
			return nil, err
		}
		var docs []storedDoc
		if err = cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		for _, doc := range docs {
			source := normalizeSource(doc.Source)
			deleted := docstore.ApplyMutations(source, req.Mutations)
			guard := bson.M{"_id": doc.ID, "seqNo": doc.SeqNo, "primaryTerm": doc.PrimaryTerm}
			if deleted {
				delRes, err := s.coll(index).DeleteOne(ctx, guard)
				if err != nil {
					return nil, err
				}
				if delRes.DeletedCount == 0 {
					if !req.ProceedOnConflict {
						return nil, errConflictAbort(index, doc.ID)
					}
					out.VersionConflicts++
					continue
				}
				out.Deleted++
				continue
			}
			seqNo, err := s.allocSeq(ctx, 1)
			if err != nil {
				return nil, err
			}
			next := storedDoc{ID: doc.ID, Source: source, SeqNo: seqNo, PrimaryTerm: s.term}
			replRes, err := s.coll(index).ReplaceOne(ctx, guard, next)
			if err != nil {
				return nil, err
			}
			if replRes.MatchedCount == 0 {
				if !req.ProceedOnConflict {
					return nil, errConflictAbort(index, doc.ID)
				}
				out.VersionConflicts++
				continue
			}
			out.Updated++
		}
	}
	return out, nil
}
