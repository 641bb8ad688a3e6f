// Package flow implements the inbound message pipeline: patient resolution,
// conversation state, the verification and reminder confirmation state
// machines, intent classification dispatch and action execution.
package flow

// Indonesian reply templates sent back to patients. Volunteers review this
// wording with the care team; keep changes coordinated with them.
const (
	replyVerified = "Terima kasih! Nomor Anda sudah terdaftar. Kami akan mengirimkan pengingat minum obat sesuai jadwal. Balas BERHENTI kapan saja untuk berhenti."

	replyDeclined = "Baik, kami tidak akan mengirimkan pengingat. Jika berubah pikiran, silakan hubungi relawan pendamping Anda."

	replyUnsubscribed = "Anda telah berhenti dari layanan pengingat obat. Semua pengingat dihentikan. Hubungi relawan pendamping Anda jika ingin mendaftar kembali."

	replyVerificationUnrecognized = "Maaf, kami belum memahami jawaban Anda. Balas YA untuk menerima pengingat minum obat, atau TIDAK untuk menolak."

	replyConfirmationThanks = "Terima kasih sudah minum obat! Semoga lekas sehat. 🙏"

	replyConfirmationNotYet = "Baik, jangan lupa segera minum obatnya ya. Kami akan menunggu konfirmasi Anda."

	replyConfirmationClarify = "Maaf, kami belum memahami jawaban Anda. Sudahkah Anda minum obat? Balas SUDAH jika sudah minum, BELUM jika belum, atau BANTUAN jika perlu bantuan relawan."

	replyConfirmationAlreadyDone = "Terima kasih, konfirmasi obat Anda sudah tercatat. 🙏"

	replyNeedHelp = "Kami sudah memberi tahu relawan pendamping Anda. Mohon tunggu, relawan akan segera menghubungi Anda."

	replyFallbackAck = "Terima kasih atas pesan Anda. Relawan pendamping kami akan segera menghubungi Anda."
)
