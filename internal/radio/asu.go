package radio

// LTEAsuToDBm converts an LTE RSRP ASU value (0..97) to dBm. It returns false
// for the "unknown" ASU value 255 and out-of-range input.
func LTEAsuToDBm(asu int) (int, bool) {
	if asu < 0 || asu > 97 {
		return 0, false
	}
	return asu - 140, true
}

// NRAsuToDBm converts an NR SS-RSRP ASU value (0..97) to dBm.
func NRAsuToDBm(asu int) (int, bool) {
	if asu < 0 || asu > 97 {
		return 0, false
	}
	return asu - 140, true
}

// GSMAsuToDBm converts a GSM/UMTS RSSI ASU value (0..31) to dBm.
func GSMAsuToDBm(asu int) (int, bool) {
	if asu < 0 || asu > 31 {
		return 0, false
	}
	return 2*asu - 113, true
}
