//go:build !linux

package service

const supported = false
