// Package aggregator merges node contributions into one deduplicated,
// deterministically ordered sequence.
package aggregator

import (
	"strings"

	"github.com/samber/lo"

	"subhub/models"
)

// Merge concatenates contributions in order (manual entries first, then
// fetched sources in configured order) and deduplicates by exact
// connection URL, keeping the first occurrence. Nodes without a URL are
// dropped. The output order is stable for identical inputs even though
// the fetches behind the contributions complete out of order; callers
// hand in slices already positioned by source index.
func Merge(manual []models.Node, fetched [][]models.Node) []models.Node {
	total := len(manual)
	for _, contribution := range fetched {
		total += len(contribution)
	}

	seen := make(map[string]struct{}, total)
	merged := make([]models.Node, 0, total)

	appendNodes := func(nodes []models.Node) {
		for _, node := range nodes {
			if node.URL == "" {
				continue
			}
			if _, ok := seen[node.URL]; ok {
				continue
			}
			seen[node.URL] = struct{}{}
			merged = append(merged, node)
		}
	}

	appendNodes(manual)
	for _, contribution := range fetched {
		appendNodes(contribution)
	}

	return merged
}

// Render flattens nodes back into the newline-joined link list that feeds
// exchange on the wire.
func Render(nodes []models.Node) string {
	links := lo.Map(nodes, func(node models.Node, _ int) string {
		return node.URL
	})
	return strings.Join(links, "\n")
}
