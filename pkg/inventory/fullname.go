package inventory

import "strings"

// FullName returns the canonical "dataset#block" identifier for b.
func (b *Block) FullName() string {
	return BlockFullName(b.Dataset.Name, b.Name)
}

// BlockFullName joins a dataset name and block name into the wire form used
// throughout the dealer and the wire protocol.
func BlockFullName(datasetName, blockName string) string {
	return datasetName + "#" + blockName
}

// ParseBlockFullName splits "dataset#block" into its two halves. ok is
// false if name does not contain the separator, i.e. it should be treated
// as a plain dataset name instead.
func ParseBlockFullName(name string) (datasetName, blockName string, ok bool) {
	idx := strings.IndexByte(name, '#')
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
