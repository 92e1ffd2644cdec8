package bc

import "sort"

// messageTypeNames maps the message type word to a stable name. Names follow
// the XML element the type carries where one exists. The set is what cameras
// in the field have been observed to speak; lookups outside it are not an
// error, they label as unknown.
var messageTypeNames = map[uint32]string{
	// Session.
	1:  "login",
	2:  "logout",
	23: "reboot",
	44: "self-check",
	93: "ping",

	// Media streams.
	3:   "preview-start",
	4:   "preview-stop",
	5:   "file-info-list",
	6:   "file-info",
	7:   "playback-start",
	8:   "playback-stop",
	9:   "playback-seek",
	10:  "talk-ability",
	11:  "talk-reset",
	109: "snap",
	145: "channel-info-list",
	146: "stream-info-list",
	201: "talk-config",
	202: "talk",

	// Recording.
	12: "record-state",
	13: "record-start",
	14: "record-stop",
	15: "record-config-get",
	16: "record-config-set",
	38: "record-schedule-get",
	39: "record-schedule-set",

	// PTZ.
	18:  "ptz-control",
	19:  "ptz-speed",
	20:  "zoom-focus-get",
	21:  "zoom-focus-set",
	216: "ptz-preset-get",
	217: "ptz-preset-set",
	218: "ptz-patrol-get",
	219: "ptz-patrol-set",
	228: "ptz-guard-get",
	229: "ptz-guard-set",

	// Alarms and detection.
	31:  "motion-subscribe",
	32:  "motion-config-get",
	33:  "motion-event-list",
	34:  "motion-config-set",
	36:  "shelter-config-get",
	37:  "shelter-config-set",
	149: "ai-detect-config-get",
	150: "ai-detect-config-set",
	210: "rf-alarm-config-get",
	211: "rf-alarm-config-set",
	212: "pir-config-get",
	213: "pir-config-set",
	230: "audio-alarm-play",
	231: "audio-alarm-config-get",
	232: "audio-alarm-config-set",

	// Video pipeline.
	25:  "video-input-set",
	26:  "video-input-get",
	40:  "compression-config-get",
	41:  "compression-config-set",
	46:  "osd-config-get",
	47:  "osd-config-set",
	132: "video-input-list",
	133: "image-config-get",
	134: "image-config-set",
	137: "isp-config-get",
	138: "isp-config-set",

	// Device info and abilities.
	58:  "ability-support",
	76:  "ip-config-get",
	77:  "ip-config-set",
	78:  "port-config-get",
	79:  "serial-number",
	80:  "version-info",
	81:  "time-config-get",
	82:  "time-config-set",
	83:  "system-general",
	84:  "system-norm-set",
	104: "system-general-get",
	105: "system-general-set",
	114: "performance",
	115: "wifi-signal",
	151: "ability-info",
	199: "support",

	// Network services.
	52:  "email-config-get",
	53:  "email-config-set",
	54:  "email-test",
	57:  "ftp-config-get",
	59:  "ftp-config-set",
	60:  "ftp-test",
	65:  "ddns-config-get",
	66:  "ddns-config-set",
	97:  "ntp-config-get",
	98:  "ntp-config-set",
	99:  "upnp-config-get",
	100: "upnp-config-set",
	120: "wifi-config-get",
	121: "wifi-config-set",
	122: "wifi-scan",
	190: "push-subscribe",
	191: "push-unsubscribe",

	// Storage.
	102: "hdd-info-list",
	103: "hdd-format",

	// Users.
	67: "user-list",
	68: "user-add",
	69: "user-delete",
	70: "user-modify",
	71: "online-list",

	// Power accessories.
	208: "led-state-get",
	209: "led-state-set",
	252: "battery-info-list",
	253: "battery-info",
	272: "sleep-config-get",
	273: "sleep-config-set",
	288: "floodlight-manual",
	289: "floodlight-tasks-get",
	290: "floodlight-tasks-set",
	291: "floodlight-status-list",
	438: "siren-manual",

	// UDP transport housekeeping.
	234: "udp-keepalive",
}

// MessageTypeName returns the catalog name for a message type, or "unknown"
// for types outside the catalog. It never fails; an unnamed type is data,
// not an error.
func MessageTypeName(t uint32) string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MessageTypes returns the catalog as id/name pairs sorted by id. Used by
// the types command.
func MessageTypes() []MessageTypeEntry {
	entries := make([]MessageTypeEntry, 0, len(messageTypeNames))
	for id, name := range messageTypeNames {
		entries = append(entries, MessageTypeEntry{ID: id, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// MessageTypeEntry is one row of the message type catalog.
type MessageTypeEntry struct {
	ID   uint32
	Name string
}
