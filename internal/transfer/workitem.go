package transfer

import (
	"strconv"
	"strings"
)

// WorkItem is the unit the orchestrator processes: an IndividualItem or a
// GroupItem. The set is closed.
type WorkItem interface {
	// Key identifies the item within its batch, e.g. "record:12" or
	// "group:tenant-1/g-1".
	Key() string
	// Kind reports the variant.
	Kind() ItemKind
	// Records returns the records covered, in source order.
	Records() []Record
	// Ref returns the persistence identity.
	Ref() ItemRef
	// Label is a short human description for events and logs.
	Label() string

	isWorkItem()
}

// IndividualItem wraps exactly one record.
type IndividualItem struct {
	Record Record
}

func (i IndividualItem) Key() string       { return "record:" + strconv.FormatInt(i.Record.ID, 10) }
func (i IndividualItem) Kind() ItemKind    { return KindIndividual }
func (i IndividualItem) Records() []Record { return []Record{i.Record} }
func (IndividualItem) isWorkItem()         {}

func (i IndividualItem) Ref() ItemRef {
	return ItemRef{TenantID: i.Record.TenantID, Kind: KindIndividual, ID: strconv.FormatInt(i.Record.ID, 10)}
}

func (i IndividualItem) Label() string {
	return strings.TrimSpace(i.Record.StudentNumber + " " + i.Record.StudentName)
}

// GroupItem wraps the non-empty, ordered members of one tenant sharing one
// group key.
type GroupItem struct {
	TenantID string
	GroupKey string
	Members  []Record
}

func (g GroupItem) Key() string    { return "group:" + g.tenant() + "/" + g.GroupKey }
func (g GroupItem) Kind() ItemKind { return KindGroup }
func (GroupItem) isWorkItem()      {}

func (g GroupItem) Records() []Record {
	return append([]Record(nil), g.Members...)
}

func (g GroupItem) Ref() ItemRef {
	return ItemRef{TenantID: g.tenant(), Kind: KindGroup, ID: g.GroupKey}
}

func (g GroupItem) tenant() string {
	if g.TenantID == "" && len(g.Members) > 0 {
		return g.Members[0].TenantID
	}
	return g.TenantID
}

func (g GroupItem) Label() string {
	return "group " + g.GroupKey + " (" + strconv.Itoa(len(g.Members)) + " members)"
}

type groupIdentity struct {
	tenant string
	key    string
}

// BuildWorkItems partitions records into work items. Individual records come
// first in source order, followed by one GroupItem per (tenant, group key)
// ordered by first appearance; members keep source order. Tenants never
// share a group even when their keys match.
func BuildWorkItems(records []Record) []WorkItem {
	var (
		individuals []WorkItem
		groupOrder  []groupIdentity
		groups      = make(map[groupIdentity][]Record)
	)
	for _, record := range records {
		if !record.Grouped() {
			individuals = append(individuals, IndividualItem{Record: record})
			continue
		}
		id := groupIdentity{tenant: record.TenantID, key: record.GroupKey}
		if _, seen := groups[id]; !seen {
			groupOrder = append(groupOrder, id)
		}
		groups[id] = append(groups[id], record)
	}
	items := make([]WorkItem, 0, len(individuals)+len(groupOrder))
	items = append(items, individuals...)
	for _, id := range groupOrder {
		items = append(items, GroupItem{TenantID: id.tenant, GroupKey: id.key, Members: groups[id]})
	}
	return items
}

func recordIDs(records []Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
