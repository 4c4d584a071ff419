// Package mapping converts stored records into the remote system's form
// fields. The mapper is pure: identical records always produce identical
// forms and nothing outside the record is consulted.
package mapping
