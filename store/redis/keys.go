package redis

// Redis key naming conventions for outpost data.
// All keys are prefixed with "outpost:" to avoid collisions.

const keyPrefix = "outpost:"

// itemKeyPrefix is prepended to an item ID to form its Hash key. Scripts
// receive it as an argument and build keys themselves.
const itemKeyPrefix = keyPrefix + "item:"

// itemKey returns the Hash key for an item: outpost:item:{id}
func itemKey(id string) string { return itemKeyPrefix + id }

// Sorted Sets indexing items by state.
const (
	// delayedKey holds queued items scored by available_at.
	delayedKey = keyPrefix + "items:delayed"
	// readyKey holds queued, due items scored by created_at.
	readyKey = keyPrefix + "items:ready"
	// processingKey holds claimed items scored by claimed_at.
	processingKey = keyPrefix + "items:processing"
	// processedKey holds processed items scored by updated_at.
	processedKey = keyPrefix + "items:processed"
	// deadLetterKey holds dead-lettered items scored by updated_at.
	deadLetterKey = keyPrefix + "items:dead_letter"
	// allItemsKey holds every item scored by created_at.
	allItemsKey = keyPrefix + "items:all"
)
