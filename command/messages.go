/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package command

import "fmt"

// Response catalog. Spanish is the deployment default; English is kept in
// lockstep. Every user-facing template exists in both languages and is
// selected per origin via #osmlang.

// Langs lists the supported language codes.
var Langs = []string{"es", "en"}

// ValidLang reports whether code is a supported language.
func ValidLang(code string) bool {
	for _, l := range Langs {
		if l == code {
			return true
		}
	}
	return false
}

type catalog struct {
	missingText      string
	ackSuccess       string
	ackQueued        string
	rejectNoGPS      string
	rejectStaleGPS   string
	rejectBadCoords  string
	rejectTooLong    string
	rejectRateLimit  string
	duplicate        string
	help             string
	promoted         string
	dailyBroadcast   string
	flushSummary     string
	privacySuffix    string
	status           string
	count            string
	listHeader       string
	listEmpty        string
	queue            string
	nodesHeader      string
	nodesEmpty       string
	langSet          string
	langInvalid      string
	approximateTag   string
	locationLine     string
	attributionLine  string
}

var catalogs = map[string]catalog{
	"es": {
		missingText:     "❌ Falta el texto del reporte.\nUsa: #osmnote <tu mensaje>",
		ackSuccess:      "✅ Reporte recibido y nota creada en OSM.\n📝 Nota: #%d\n%s",
		ackQueued:       "✅ Reporte recibido. Quedó en cola para enviar cuando haya Internet.\n📦 En cola: %s",
		rejectNoGPS:     "❌ Reporte recibido, pero no hay GPS reciente del dispositivo.\nMantén el equipo encendido al aire libre 30–60 s y reenvía.",
		rejectStaleGPS:  "❌ Reporte recibido, pero la última posición es muy vieja (>%d s).\nEspera a que el GPS se actualice y reenvía.",
		rejectBadCoords: "❌ Las coordenadas GPS recibidas son inválidas.\nVerifica que el GPS esté funcionando correctamente.",
		rejectTooLong:   "❌ El mensaje es demasiado largo (máximo %d caracteres).\nAcorta el mensaje y reenvía.",
		rejectRateLimit: "❌ Demasiados reportes seguidos. Espera un minuto y reenvía.",
		duplicate:       "✅ Reporte recibido (ya estaba registrado).",
		help: "ℹ️ Para crear una nota de mapeo escribe:\n#osmnote <tu mensaje>\n\n" +
			"Otros comandos: #osmstatus #osmcount #osmlist #osmqueue #osmlang es|en",
		promoted:        "✅ Enviado desde cola: %s → Nota OSM #%d\n%s",
		dailyBroadcast:  "ℹ️ Gateway de notas OSM activo.\nUsa:\n#osmnote <mensaje>\n#osmhelp",
		flushSummary:    "✅ Se enviaron %d reportes de tu cola. Usa #osmlist para ver detalles.",
		privacySuffix:   "⚠️ No envíes datos personales ni emergencias médicas.",
		status:          "ℹ️ Gateway activo\nInternet: %s\nRadio: %s\nEncendido hace: %s\nCola total: %d\nTu cola: %d",
		count:           "📊 Notas creadas:\nHoy: %d\nTotal: %d",
		listHeader:      "📝 Últimas %d notas:",
		listEmpty:       "📝 No hay notas registradas.",
		queue:           "📦 Cola:\nTotal: %d\nTu cola: %d",
		nodesHeader:     "📡 Nodos con posición (%d):",
		nodesEmpty:      "📡 Ningún nodo ha reportado posición todavía.",
		langSet:         "✅ Idioma configurado: %s",
		langInvalid:     "❌ Idioma no soportado. Usa: #osmlang es|en",
		approximateTag:  "[posición aproximada] ",
		locationLine:    "📍 %s",
		attributionLine: "\n\nReportado vía radio mesh (gateway osmgw)",
	},
	"en": {
		missingText:     "❌ Missing report text.\nUse: #osmnote <your message>",
		ackSuccess:      "✅ Report received, OSM note created.\n📝 Note: #%d\n%s",
		ackQueued:       "✅ Report received. Queued until Internet is available.\n📦 Queued: %s",
		rejectNoGPS:     "❌ Report received, but there is no recent GPS fix for your device.\nKeep it outdoors for 30–60 s and resend.",
		rejectStaleGPS:  "❌ Report received, but the last position is too old (>%d s).\nWait for a GPS update and resend.",
		rejectBadCoords: "❌ The received GPS coordinates are invalid.\nCheck that the GPS is working correctly.",
		rejectTooLong:   "❌ Message too long (max %d characters).\nShorten it and resend.",
		rejectRateLimit: "❌ Too many reports in a row. Wait a minute and resend.",
		duplicate:       "✅ Report received (already registered).",
		help: "ℹ️ To create a map note send:\n#osmnote <your message>\n\n" +
			"Other commands: #osmstatus #osmcount #osmlist #osmqueue #osmlang es|en",
		promoted:        "✅ Sent from queue: %s → OSM note #%d\n%s",
		dailyBroadcast:  "ℹ️ OSM notes gateway online.\nUse:\n#osmnote <message>\n#osmhelp",
		flushSummary:    "✅ %d reports from your queue were sent. Use #osmlist for details.",
		privacySuffix:   "⚠️ Do not send personal data or medical emergencies.",
		status:          "ℹ️ Gateway online\nInternet: %s\nRadio: %s\nUp for: %s\nTotal queue: %d\nYour queue: %d",
		count:           "📊 Notes created:\nToday: %d\nTotal: %d",
		listHeader:      "📝 Last %d notes:",
		listEmpty:       "📝 No notes registered.",
		queue:           "📦 Queue:\nTotal: %d\nYour queue: %d",
		nodesHeader:     "📡 Nodes with position (%d):",
		nodesEmpty:      "📡 No node has reported a position yet.",
		langSet:         "✅ Language set: %s",
		langInvalid:     "❌ Unsupported language. Use: #osmlang es|en",
		approximateTag:  "[approximate position] ",
		locationLine:    "📍 %s",
		attributionLine: "\n\nReported via mesh radio (osmgw gateway)",
	},
}

func cat(lang string) catalog {
	if c, ok := catalogs[lang]; ok {
		return c
	}
	return catalogs["es"]
}

// MsgMissingText is the rejection for a report with no text after the tag.
func MsgMissingText(lang string) string { return cat(lang).missingText }

// MsgAckSuccess acknowledges an immediately published report. location is
// an optional reverse-geocoded line and may be empty.
func MsgAckSuccess(lang string, noteID int64, url, location string) string {
	msg := fmt.Sprintf(cat(lang).ackSuccess, noteID, url)
	if location != "" {
		msg += "\n" + fmt.Sprintf(cat(lang).locationLine, location)
	}
	return msg
}

// MsgAckQueued acknowledges a report parked in the durable queue.
func MsgAckQueued(lang, queueID string) string {
	return fmt.Sprintf(cat(lang).ackQueued, queueID)
}

// MsgRejectNoGPS is the rejection when no position is cached.
func MsgRejectNoGPS(lang string) string { return cat(lang).rejectNoGPS }

// MsgRejectStaleGPS is the rejection when the cached position is too old.
func MsgRejectStaleGPS(lang string, maxAgeSeconds int) string {
	return fmt.Sprintf(cat(lang).rejectStaleGPS, maxAgeSeconds)
}

// MsgRejectInvalidCoords is the rejection for out-of-range coordinates.
func MsgRejectInvalidCoords(lang string) string { return cat(lang).rejectBadCoords }

// MsgRejectTooLong is the rejection for an over-length report.
func MsgRejectTooLong(lang string, maxLen int) string {
	return fmt.Sprintf(cat(lang).rejectTooLong, maxLen)
}

// MsgRejectRateLimited is the rejection for the per-origin report budget.
func MsgRejectRateLimited(lang string) string { return cat(lang).rejectRateLimit }

// MsgDuplicate acknowledges an already-registered report.
func MsgDuplicate(lang string) string { return cat(lang).duplicate }

// MsgHelp answers #osmhelp.
func MsgHelp(lang string) string { return cat(lang).help }

// MsgPromoted announces a queued report that has reached the upstream API.
func MsgPromoted(lang, queueID string, noteID int64, url string) string {
	return fmt.Sprintf(cat(lang).promoted, queueID, noteID, url)
}

// MsgDailyBroadcast is the once-per-day channel advertisement.
func MsgDailyBroadcast(lang string) string { return cat(lang).dailyBroadcast }

// MsgFlushSummary collapses several promotion acks into one message when
// the anti-spam budget is exhausted.
func MsgFlushSummary(lang string, n int) string {
	return fmt.Sprintf(cat(lang).flushSummary, n)
}

// PrivacySuffix is appended to user-facing acks per the 5-report rule.
func PrivacySuffix(lang string) string { return cat(lang).privacySuffix }

// MsgStatus answers #osmstatus.
func MsgStatus(lang string, internetOK, radioOK bool, uptime string, totalQueue, originQueue int) string {
	return fmt.Sprintf(cat(lang).status, okMark(internetOK), okMark(radioOK), uptime, totalQueue, originQueue)
}

// MsgCount answers #osmcount.
func MsgCount(lang string, today, total int) string {
	return fmt.Sprintf(cat(lang).count, today, total)
}

// MsgListHeader heads the #osmlist reply.
func MsgListHeader(lang string, n int) string {
	return fmt.Sprintf(cat(lang).listHeader, n)
}

// MsgListEmpty answers #osmlist when the origin has no reports.
func MsgListEmpty(lang string) string { return cat(lang).listEmpty }

// MsgQueue answers #osmqueue.
func MsgQueue(lang string, total, origin int) string {
	return fmt.Sprintf(cat(lang).queue, total, origin)
}

// MsgNodesHeader heads the #osmnodes reply.
func MsgNodesHeader(lang string, n int) string {
	return fmt.Sprintf(cat(lang).nodesHeader, n)
}

// MsgNodesEmpty answers #osmnodes with an empty position cache.
func MsgNodesEmpty(lang string) string { return cat(lang).nodesEmpty }

// MsgLangSet confirms a language change.
func MsgLangSet(lang, code string) string {
	return fmt.Sprintf(cat(lang).langSet, code)
}

// MsgLangInvalid rejects an unsupported language code.
func MsgLangInvalid(lang string) string { return cat(lang).langInvalid }

// ApproximateTag is the deterministic marker prefixed to report text when
// the cached position is older than POS_GOOD.
func ApproximateTag(lang string) string { return cat(lang).approximateTag }

// AttributionLine is appended to the note text sent upstream.
func AttributionLine(lang string) string { return cat(lang).attributionLine }

func okMark(ok bool) string {
	if ok {
		return "✅ OK"
	}
	return "❌ NO"
}
