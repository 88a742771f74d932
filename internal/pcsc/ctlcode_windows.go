//go:build windows

package pcsc

// ccidEscapeControlCode is the IOCTL_CCID_ESCAPE control code on Windows:
// SCARD_CTL_CODE(3500), i.e. (FILE_DEVICE_SMARTCARD << 16) | (3500 << 2).
const ccidEscapeControlCode uint32 = (0x31 << 16) | (3500 << 2)
