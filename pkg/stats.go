package store

// stats.go defines the pass-through counter snapshot of the store.  The
// numbers are assembled from word-sized atomics maintained by the arena and
// the segments; they are read outside any lock, so a snapshot taken during
// concurrent mutation reflects the post-release state of completed
// operations, not a frozen instant.
//
// © 2025 ehcache3 authors. MIT License.

// Stats is a point-in-time view of the store's memory and table counters.
type Stats struct {
    // AllocatedMemory is the total byte budget reserved from the arena
    // (whole slabs, including internal fragmentation headroom).
    AllocatedMemory int64
    // OccupiedMemory is the byte total of live blocks, rounded to their
    // size classes.
    OccupiedMemory int64
    // DataAllocatedMemory mirrors OccupiedMemory for the data storage area;
    // this store keeps no auxiliary off-heap structures, so the two track
    // the same blocks.
    DataAllocatedMemory int64
    // DataOccupiedMemory is the exact byte footprint of encoded entries
    // (headers + keys + values), before size-class rounding.
    DataOccupiedMemory int64
    // DataSize is the exact byte footprint of key and value payloads,
    // excluding entry headers.
    DataSize int64
    // VitalMemory is OccupiedMemory minus blocks whose slots are vetoed.
    VitalMemory int64
    // DataVitalMemory is DataOccupiedMemory minus vetoed entries.
    DataVitalMemory int64
    // LongSize is the mapping count across all segments.
    LongSize int64
    // UsedSlotCount is the number of occupied table slots.
    UsedSlotCount int64
    // RemovedSlotCount is the number of tombstoned table slots.
    RemovedSlotCount int64
    // ReprobeLength is the longest probe sequence observed in any segment.
    ReprobeLength int64
    // TableCapacity is the summed slot capacity of all segment tables.
    TableCapacity int64
}

// Stats assembles a snapshot from the arena counters and per-segment
// atomics.
func (s *Store[K, V]) Stats() Stats {
    st := Stats{
        AllocatedMemory: s.backing.arena.AllocatedBytes(),
        OccupiedMemory:  s.backing.arena.OccupiedBytes(),
    }
    st.DataAllocatedMemory = st.OccupiedMemory
    for _, seg := range s.backing.segs {
        st.DataOccupiedMemory += seg.dataOccupied.Load()
        st.DataSize += seg.dataSize.Load()
        st.LongSize += seg.used.Load()
        st.UsedSlotCount += seg.used.Load()
        st.RemovedSlotCount += seg.removed.Load()
        st.TableCapacity += seg.capacity.Load()
        if r := seg.reprobe.Load(); r > st.ReprobeLength {
            st.ReprobeLength = r
        }
        st.VitalMemory -= seg.vetoedOccupied.Load()
        st.DataVitalMemory -= seg.vetoedData.Load()
    }
    st.VitalMemory += st.OccupiedMemory
    st.DataVitalMemory += st.DataOccupiedMemory
    return st
}
