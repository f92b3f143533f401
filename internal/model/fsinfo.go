// SPDX-License-Identifier: MIT
//
// FSInfo links a parsed in-memory object back to its source file on disk,
// so configuration errors can report not just what is wrong but where.
package model

type FSInfo struct {
	FilePath string
}

func NewFSInfo(filePath string) *FSInfo {
	return &FSInfo{
		FilePath: filePath,
	}
}
