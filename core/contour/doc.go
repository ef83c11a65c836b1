// Package contour turns segmentation masks into polygons.
//
// A mask is binarized, its borders are traced together with their
// enclosure hierarchy, and every top-level region becomes an external
// polygon carrying its holes as internal polygons that point back to it
// through ParentID. The hierarchy never goes deeper than two levels.
package contour
