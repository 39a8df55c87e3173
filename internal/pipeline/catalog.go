package pipeline

import (
	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// CatalogEntry describes one knowledge partition to the routing layer and
// to API consumers: what it holds and the retrieval intentions it serves.
type CatalogEntry struct {
	Partition   domain.PartitionID `json:"partition"`
	Description string             `json:"description"`
	Intentions  []string           `json:"intentions"`
}

var catalogEntries = map[domain.PartitionID]CatalogEntry{
	domain.PartitionRulebook: {
		Partition:   domain.PartitionRulebook,
		Description: "Game rules reference: mechanics, spells, conditions, and procedures.",
		Intentions:  []string{"rule_lookup", "spell_details", "condition_details", "mechanic_explanation"},
	},
	domain.PartitionCharacter: {
		Partition:   domain.PartitionCharacter,
		Description: "Player character records: stats, inventory, spells, and background.",
		Intentions:  []string{"stat_check", "inventory_lookup", "spell_list", "background_detail"},
	},
	domain.PartitionHistory: {
		Partition:   domain.PartitionHistory,
		Description: "Session history: past events, NPC interactions, and story recaps.",
		Intentions:  []string{"event_recall", "npc_interaction", "session_summary"},
	},
}

// Catalog returns the catalog entries for the source's active partitions,
// in the fixed partition declaration order.
func Catalog(src knowledge.Source) []CatalogEntry {
	var out []CatalogEntry
	for _, p := range src.Partitions() {
		if entry, ok := catalogEntries[p.ID()]; ok {
			out = append(out, entry)
		}
	}
	return out
}
