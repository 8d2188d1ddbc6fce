package kdeconnect

import "github.com/r58Playz/kdeconnect/kdeerr"

// Tag discriminates the error taxonomy surfaced to hosts (spec §6).
type Tag = kdeerr.Tag

const (
	TagIo                         = kdeerr.TagIo
	TagTls                        = kdeerr.TagTls
	TagInvalidDnsName             = kdeerr.TagInvalidDnsName
	TagMdns                       = kdeerr.TagMdns
	TagKeygenOrCert               = kdeerr.TagKeygenOrCert
	TagJsonDecode                 = kdeerr.TagJsonDecode
	TagX509Parse                  = kdeerr.TagX509Parse
	TagChannelSend                = kdeerr.TagChannelSend
	TagChannelRecv                = kdeerr.TagChannelRecv
	TagNoPeerCerts                = kdeerr.TagNoPeerCerts
	TagServerAlreadyStarted       = kdeerr.TagServerAlreadyStarted
	TagOsStringConversion         = kdeerr.TagOsStringConversion
	TagNoPayloadTransferPortFound = kdeerr.TagNoPayloadTransferPortFound
	TagNoFileName                 = kdeerr.TagNoFileName
	TagDeviceRejectedPair         = kdeerr.TagDeviceRejectedPair
	TagDeviceAlreadyPaired        = kdeerr.TagDeviceAlreadyPaired
	TagOther                      = kdeerr.TagOther
)

// Error is the error type returned across package boundaries: a tag
// from the taxonomy plus the underlying cause, if any.
type Error = kdeerr.Error

// Wrap builds an *Error with the given tag wrapping cause.
func Wrap(tag Tag, cause error) *Error { return kdeerr.Wrap(tag, cause) }

// New builds an *Error with the given tag and no wrapped cause.
func New(tag Tag) *Error { return kdeerr.New(tag) }

var (
	ErrNoPayloadTransferPortFound = kdeerr.ErrNoPayloadTransferPortFound
	ErrDeviceRejectedPair         = kdeerr.ErrDeviceRejectedPair
	ErrDeviceAlreadyPaired        = kdeerr.ErrDeviceAlreadyPaired
	ErrNoPeerCerts                = kdeerr.ErrNoPeerCerts
	ErrNoFileName                 = kdeerr.ErrNoFileName
	ErrServerAlreadyStarted       = kdeerr.ErrServerAlreadyStarted
)
