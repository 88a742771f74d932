//go:build !windows

package pcsc

// ccidEscapeControlCode is the IOCTL_CCID_ESCAPE control code on
// non-Windows platforms: SCARD_CTL_CODE(1), i.e. 0x42000000 + 1.
const ccidEscapeControlCode uint32 = 0x42000000 + 1
