/*
replicas.go - Classification replica keys and the fan-out rule

PURPOSE:
  Every order is mirrored into four read-optimized partitions: by current
  state, by weekday bucket, by customer class, and by attribution group.
  Partitions are rows in one generic keyed table — (dimension, order_id) is
  the primary key, partition_value is the dimension's value — so a new
  attribution group never needs schema changes.

  ReplicaKeysFor is THE fan-out helper: every mutating order operation goes
  through it (via the store's replica sync) instead of enumerating partitions
  inline. When a partitioning field changes, comparing the previous and the
  current key sets yields exactly the delete-old/insert-new pairs required.

INVARIANT:
  For every order, exactly one replica row exists per dimension, and its
  field values equal the order's current values. Replica writes commit in the
  same transaction as the canonical row or not at all.
*/
package lending

type ReplicaDimension string

const (
	DimState   ReplicaDimension = "state"
	DimWeekday ReplicaDimension = "weekday"
	DimClass   ReplicaDimension = "class"
	DimGroup   ReplicaDimension = "group"
)

// Dimensions lists every partition dimension, in stable order.
func Dimensions() []ReplicaDimension {
	return []ReplicaDimension{DimState, DimWeekday, DimClass, DimGroup}
}

// ReplicaKey identifies one partition an order belongs to.
type ReplicaKey struct {
	Dimension ReplicaDimension
	Value     string
}

// Replica is one denormalized copy of an order inside a partition.
type Replica struct {
	Key   ReplicaKey
	Order Order
}

// ReplicaKeysFor computes the applicable partition keys for an order's
// current field values: one key per dimension.
func ReplicaKeysFor(o Order) []ReplicaKey {
	return []ReplicaKey{
		{Dimension: DimState, Value: string(o.State)},
		{Dimension: DimWeekday, Value: string(o.Weekday)},
		{Dimension: DimClass, Value: string(o.Class)},
		{Dimension: DimGroup, Value: string(o.GroupID)},
	}
}
