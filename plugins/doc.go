// Package plugins hosts the block families shipped with opchain, one
// subpackage per family, and plugins/builtin which installs them all.
//
// Block implementations depend only on pkg/block, pkg/field and
// pkg/geometry. Persisted statistics are reached through
// block.StatisticsStore; the store implementations under internal/ are wired
// in by the runtime. The guard tests in this directory keep it that way.
package plugins
