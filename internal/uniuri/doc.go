// Package uniuri generates random tokens for feed subscription ids.
package uniuri
