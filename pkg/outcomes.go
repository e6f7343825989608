package store

// outcomes.go maps internal operation results onto the enums the statistics
// surface publishes.  Conditional remove/replace additionally expose their
// outcome to the caller, because "missed on a present mapping" and "missed
// on an absent mapping" demand different reactions from a tier above.
//
// © 2025 ehcache3 authors. MIT License.

// ReplaceStatus is the caller-visible outcome of ReplaceKeyValue.
type ReplaceStatus uint8

const (
    // ReplaceHit means the expected value matched and the mapping was
    // replaced.
    ReplaceHit ReplaceStatus = iota
    // ReplaceMissNotPresent means no mapping was present.
    ReplaceMissNotPresent
    // ReplaceMissPresent means a mapping was present but did not match the
    // expected value; the map is unchanged.
    ReplaceMissPresent
)

// RemoveStatus is the caller-visible outcome of RemoveKeyValue.
type RemoveStatus uint8

const (
    // RemoveHit means the expected value matched and the mapping is gone.
    RemoveHit RemoveStatus = iota
    // RemoveKeyMissing means no mapping was present.
    RemoveKeyMissing
    // RemoveKeyPresent means a mapping was present but did not match; the
    // map is unchanged.
    RemoveKeyPresent
)

/* -------------------------------------------------------------------------
   Statistics labels
   ------------------------------------------------------------------------- */

const (
    opGet                     = "get"
    opContainsKey             = "contains_key"
    opPut                     = "put"
    opPutIfAbsent             = "put_if_absent"
    opRemove                  = "remove"
    opConditionalRemove       = "conditional_remove"
    opReplace                 = "replace"
    opConditionalReplace      = "conditional_replace"
    opCompute                 = "compute"
    opComputeIfAbsent         = "compute_if_absent"
    opClear                   = "clear"
    opEviction                = "eviction"
    opExpiration              = "expiration"
    opGetAndFault             = "get_and_fault"
    opComputeIfAbsentAndFault = "compute_if_absent_and_fault"
    opFlush                   = "flush"
    opInvalidate              = "invalidate"
    opGetAndRemove            = "get_and_remove"
    opInstallMapping          = "install_mapping"
)

const (
    outcomeHit            = "hit"
    outcomeMiss           = "miss"
    outcomeMissNotPresent = "miss_not_present"
    outcomeMissPresent    = "miss_present"
    outcomePut            = "put"
    outcomeReplaced       = "replaced"
    outcomeRemoved        = "removed"
    outcomeNoop           = "noop"
    outcomeSuccess        = "success"
    outcomeFailure        = "failure"
)
