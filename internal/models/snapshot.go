package models

import (
	"reflect"
	"sort"
)

// Snapshot 每个类别最近一条记录（列表长度为 0 或 1）
type Snapshot struct {
	Records map[Category][]Record `json:"records"`
}

// NewSnapshot 按类别集合创建空快照（每个类别都有一个空列表）
func NewSnapshot(categories []Category) Snapshot {
	s := Snapshot{Records: make(map[Category][]Record, len(categories))}
	for _, c := range categories {
		s.Records[c] = []Record{}
	}
	return s
}

// Put 设置类别的最新记录；nil 表示该类别无数据
func (s Snapshot) Put(c Category, latest *Record) {
	if latest == nil {
		s.Records[c] = []Record{}
		return
	}
	s.Records[c] = []Record{*latest}
}

// Latest 返回类别的最新记录
func (s Snapshot) Latest(c Category) (Record, bool) {
	recs := s.Records[c]
	if len(recs) == 0 {
		return Record{}, false
	}
	return recs[0], true
}

// Categories 快照中包含的类别（已排序）
func (s Snapshot) Categories() []Category {
	out := make([]Category, 0, len(s.Records))
	for c := range s.Records {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsEmpty 所有类别都没有记录
func (s Snapshot) IsEmpty() bool {
	for _, recs := range s.Records {
		if len(recs) > 0 {
			return false
		}
	}
	return true
}

// Equal 结构相等（记录需先经过 Record.Normalize）
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Records) != len(other.Records) {
		return false
	}
	for c, recs := range s.Records {
		otherRecs, ok := other.Records[c]
		if !ok || len(recs) != len(otherRecs) {
			return false
		}
		for i := range recs {
			if !reflect.DeepEqual(recs[i], otherRecs[i]) {
				return false
			}
		}
	}
	return true
}

// LatestOf 按起始时间选出最近的一条记录；列表为空返回 nil
func LatestOf(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	latest := 0
	for i := 1; i < len(records); i++ {
		if records[i].StartTime.After(records[latest].StartTime) {
			latest = i
		}
	}
	rec := records[latest]
	return &rec
}
