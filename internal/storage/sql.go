package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      filename,
                      device_id,
                      start_time)
VALUES (?, ?, ?, ?)`

	closeSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?
  AND end_time IS NULL`

	markSessionSyncedSQL = `
UPDATE sessions
SET synced = 1
WHERE id = ?`

	selectSessionColumns = `
SELECT id,
       filename,
       device_id,
       start_time,
       end_time,
       synced
FROM sessions`

	selectSessionSQL = selectSessionColumns + `
WHERE id = ?`

	selectSessionsSQL = selectSessionColumns + `
ORDER BY start_time`

	selectUnsyncedSessionsSQL = selectSessionColumns + `
WHERE synced = 0
ORDER BY start_time`

	upsertProfileSQL = `
INSERT INTO profiles (subscription_id,
                      slot_index,
                      mcc,
                      mnc,
                      display_name,
                      embedded,
                      updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subscription_id) DO UPDATE SET slot_index   = excluded.slot_index,
                                            mcc          = excluded.mcc,
                                            mnc          = excluded.mnc,
                                            display_name = excluded.display_name,
                                            embedded     = excluded.embedded,
                                            updated_at   = excluded.updated_at`

	selectProfileSQL = `
SELECT subscription_id,
       slot_index,
       mcc,
       mnc,
       display_name,
       embedded
FROM profiles
WHERE subscription_id = ?`

	insertRecordSQL = `
INSERT INTO records (session_id,
                     timestamp,
                     subscription_id,
                     latitude,
                     longitude,
                     altitude,
                     speed,
                     bearing,
                     accuracy,
                     network_type,
                     rsrp,
                     rssi,
                     rsrq,
                     snr,
                     cqi,
                     timing_advance,
                     cell_id,
                     nodeb_id,
                     tac,
                     pci,
                     earfcn,
                     nrarfcn,
                     bandwidth,
                     roaming,
                     data_state,
                     data_activity,
                     sim_state,
                     endc_available,
                     nr_state,
                     override_network_type,
                     csi_rsrp,
                     csi_sinr,
                     ss_rsrp,
                     ss_sinr)
VALUES `

	// recordColumnCount is the number of values bound per inserted record
	recordColumnCount = 34

	selectRecordsSQL = `
SELECT r.timestamp,
       r.session_id,
       r.subscription_id,
       r.latitude,
       r.longitude,
       r.altitude,
       r.speed,
       r.bearing,
       r.accuracy,
       r.network_type,
       r.rsrp,
       r.rssi,
       r.rsrq,
       r.snr,
       r.cqi,
       r.timing_advance,
       r.cell_id,
       r.nodeb_id,
       r.tac,
       r.pci,
       r.earfcn,
       r.nrarfcn,
       r.bandwidth,
       r.roaming,
       r.data_state,
       r.data_activity,
       r.sim_state,
       r.endc_available,
       r.nr_state,
       r.override_network_type,
       r.csi_rsrp,
       r.csi_sinr,
       r.ss_rsrp,
       r.ss_sinr,
       p.slot_index,
       p.mcc,
       p.mnc,
       p.display_name,
       p.embedded
FROM records r
         LEFT JOIN profiles p ON p.subscription_id = r.subscription_id
WHERE r.session_id = ?
ORDER BY r.id`

	countRecordsSQL = `
SELECT COUNT(*)
FROM records
WHERE session_id IN (%s)`
)
