package trie

import "errors"

var errNodeNotFound = errors.New("trie: node not found")
