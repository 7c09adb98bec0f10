// Package codec maps compression suffixes and magic numbers to stream
// decompressors.
//
// Two callers use it. The content reader strips one secondary compression
// layer from members whose name ends in a configured suffix (".xz", ".gz",
// ...). The archive package sniffs the leading bytes of a file to recognise
// compressed tar streams regardless of the file's extension.
package codec
