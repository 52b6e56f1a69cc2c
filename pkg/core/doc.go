// Package core defines the shared records of the lineage pipeline.
//
// This package contains:
//   - Graph entities (Asset, Column, AssetLink, ColumnLink, AssetError)
//   - Lineage vocabulary (LineageType, ConnectionType, ColumnEdge)
//   - Resource descriptors (Resource, ResourceType)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
