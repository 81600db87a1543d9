package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/docstore"
)

const defaultSearchSize = 10

func (s *store) Search(ctx context.Context, req docstore.SearchRequest) (*docstore.SearchResult, error) {
	indexes := req.Indexes
	if req.PITID != "" {
		s.mu.Lock()
		pit, ok := s.pits[req.PITID]
		if !ok || time.Now().After(pit.deadline) {
			s.mu.Unlock()
			return nil, docstore.ErrPITNotFound
		}
		indexes = pit.indexes
		s.mu.Unlock()
	}

	filter := compileQuery(req.Query)
	sorts := append(append([]docstore.SortField{}, req.Sort...), docstore.SortField{Field: "_id"})
	pageFilter := filter
	if len(req.SearchAfter) > 0 {
		if len(req.SearchAfter) != len(sorts) {
			return nil, fmt.Errorf("mongostore: search_after length %d does not match sort length %d", len(req.SearchAfter), len(sorts))
		}
		pageFilter = bson.M{"$and": []bson.M{filter, searchAfterFilter(sorts, req.SearchAfter)}}
	}

	size := req.Size
	if size <= 0 {
		size = defaultSearchSize
	}

	res := &docstore.SearchResult{PITID: req.PITID}
	for _, index := range indexes {
		total, err := s.coll(index).CountDocuments(ctx, filter)
		if err != nil {
			return nil, err
		}
		res.Total += total
	}
	if len(req.Aggregations) > 0 {
		aggRes, err := s.computeAggs(ctx, indexes, filter, req.Aggregations)
		if err != nil {
			return nil, err
		}
		res.Aggregations = aggRes
	}

	// searches spanning several collections are merged client-side, so each
	// collection has to contribute enough hits to cover the requested page
	sortDoc := bson.D{}
	for _, sf := range sorts {
		dir := 1
		if sf.Desc {
			dir = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: fieldPath(sf.Field), Value: dir})
	}
	fetch := size
	if len(req.SearchAfter) == 0 && req.From > 0 {
		fetch += req.From
	}
	var hits []docstore.Doc
	for _, index := range indexes {
		cur, err := s.coll(index).Find(ctx, pageFilter, options.Find().SetSort(sortDoc).SetLimit(int64(fetch)))
		if err != nil {
			return nil, err
		}
		var docs []storedDoc
		if err = cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		for i := range docs {
			hit := s.toDoc(index, &docs[i])
			hit.Sort = sortValues(&hit, sorts)
			hits = append(hits, hit)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return docstore.CompareSortValues(hits[i].Sort, hits[j].Sort, sorts) < 0
	})
	if len(req.SearchAfter) == 0 && req.From > 0 {
		if req.From >= len(hits) {
			hits = nil
		} else {
			hits = hits[req.From:]
		}
	}
	if len(hits) > size {
		hits = hits[:size]
	}
	res.Hits = hits
	return res, nil
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

// searchAfterFilter builds the strict-after condition for cursor paging:
// an or-chain of "equal on leading sort keys, beyond on this one".
func searchAfterFilter(sorts []docstore.SortField, cursor []any) bson.M {
	var or []bson.M
	for i, sf := range sorts {
		and := make([]bson.M, 0, i+1)
		for j := 0; j < i; j++ {
			and = append(and, bson.M{fieldPath(sorts[j].Field): cursor[j]})
		}
		op := "$gt"
		if sf.Desc {
			op = "$lt"
		}
		and = append(and, bson.M{fieldPath(sf.Field): bson.M{op: cursor[i]}})
		if len(and) == 1 {
			or = append(or, and[0])
		} else {
			or = append(or, bson.M{"$and": and})
		}
	}
	return bson.M{"$or": or}
}

func (s *store) computeAggs(ctx context.Context, indexes []string, filter bson.M, aggs map[string]docstore.Aggregation) (map[string]docstore.AggResult, error) {
	out := make(map[string]docstore.AggResult, len(aggs))
	for name, agg := range aggs {
		var res docstore.AggResult
		for _, index := range indexes {
			part, err := s.computeAgg(ctx, index, filter, agg)
			if err != nil {
				return nil, err
			}
			res = combineAggResults(res, part, agg.Kind)
		}
		out[name] = res
	}
	return out, nil
}

func (s *store) computeAgg(ctx context.Context, index string, filter bson.M, agg docstore.Aggregation) (docstore.AggResult, error) {
	path := "$" + fieldPath(agg.Field)
	pipeline := []bson.M{{"$match": filter}, {"$unwind": path}}
	switch agg.Kind {
	case docstore.AggTerms:
		size := agg.Size
		if size <= 0 {
			size = 10
		}
		pipeline = append(pipeline,
			bson.M{"$group": bson.M{"_id": path, "count": bson.M{"$sum": 1}}},
			bson.M{"$sort": bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}},
			bson.M{"$limit": size},
		)
		cur, err := s.coll(index).Aggregate(ctx, pipeline)
		if err != nil {
			return docstore.AggResult{}, err
		}
		var rows []struct {
			Key   any   `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err = cur.All(ctx, &rows); err != nil {
			return docstore.AggResult{}, err
		}
		res := docstore.AggResult{}
		for _, row := range rows {
			res.Buckets = append(res.Buckets, docstore.AggBucket{Key: normalizeValue(row.Key), DocCount: row.Count})
		}
		return res, nil
	case docstore.AggValueCount:
		pipeline = append(pipeline, bson.M{"$count": "count"})
		cur, err := s.coll(index).Aggregate(ctx, pipeline)
		if err != nil {
			return docstore.AggResult{}, err
		}
		var rows []struct {
			Count int64 `bson:"count"`
		}
		if err = cur.All(ctx, &rows); err != nil {
			return docstore.AggResult{}, err
		}
		if len(rows) == 0 {
			return docstore.AggResult{}, nil
		}
		return docstore.AggResult{Value: float64(rows[0].Count)}, nil
	default:
		var op string
		switch agg.Kind {
		case docstore.AggMax:
			op = "$max"
		case docstore.AggMin:
			op = "$min"
		case docstore.AggSum:
			op = "$sum"
		default:
			return docstore.AggResult{}, fmt.Errorf("mongostore: unsupported aggregation kind %q", agg.Kind)
		}
		pipeline = append(pipeline, bson.M{"$group": bson.M{"_id": nil, "value": bson.M{op: path}}})
		cur, err := s.coll(index).Aggregate(ctx, pipeline)
		if err != nil {
			return docstore.AggResult{}, err
		}
		var rows []struct {
			Value float64 `bson:"value"`
		}
		if err = cur.All(ctx, &rows); err != nil {
			return docstore.AggResult{}, err
		}
		if len(rows) == 0 {
			return docstore.AggResult{}, nil
		}
		return docstore.AggResult{Value: rows[0].Value}, nil
	}
}

func combineAggResults(a, b docstore.AggResult, kind docstore.AggKind) docstore.AggResult {
	switch kind {
	case docstore.AggTerms:
		a.Buckets = append(a.Buckets, b.Buckets...)
		return a
	case docstore.AggMax:
		if b.Value > a.Value {
			a.Value = b.Value
		}
		return a
	case docstore.AggMin:
		if len(a.Buckets) == 0 && a.Value == 0 || b.Value < a.Value {
			a.Value = b.Value
		}
		return a
	default:
		a.Value += b.Value
		return a
	}
}

// OpenPointInTime registers a pagination snapshot token. Mongo has no
// server-side snapshot to pin, so the token guarantees a stable sort cursor
// over the named indexes, not full isolation from concurrent writes.
func (s *store) OpenPointInTime(ctx context.Context, req docstore.OpenPITRequest) (pitID string, err error) {
	if len(req.Indexes) == 0 {
		return "", fmt.Errorf("mongostore: point in time needs at least one index")
	}
	keepAlive := req.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultPITKeepAlive
	}
	pitID = uuid.New().String()
	s.mu.Lock()
	s.pits[pitID] = &pointInTime{indexes: req.Indexes, deadline: time.Now().Add(keepAlive)}
	s.mu.Unlock()
	return pitID, nil
}

func (s *store) ClosePointInTime(ctx context.Context, pitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pits[pitID]; !ok {
		return docstore.ErrPITNotFound
	}
	delete(s.pits, pitID)
	return nil
}

func (s *store) sweepExpiredPITs(ctx context.Context) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pit := range s.pits {
		if now.After(pit.deadline) {
			delete(s.pits, id)
			log.Debug("expired point in time", zap.String("pitId", id))
		}
	}
	return nil
}
